package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"talent-match-go/internal/constants"
	"talent-match-go/internal/logger"
	"talent-match-go/internal/tracing"
	"talent-match-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DocumentAnalyzer 将简历全文交给 LLM，抽取结构化的候选人画像。
type DocumentAnalyzer struct {
	llmModel        model.ToolCallingChatModel
	promptTemplate  string
	fewShotExamples string
	validate        *validator.Validate
}

// DocumentAnalyzerOption 配置 DocumentAnalyzer。
type DocumentAnalyzerOption func(*DocumentAnalyzer)

// WithAnalyzerPromptTemplate 覆盖默认的抽取提示词模板。
func WithAnalyzerPromptTemplate(template string) DocumentAnalyzerOption {
	return func(a *DocumentAnalyzer) {
		a.promptTemplate = template
	}
}

// WithAnalyzerFewShotExamples 覆盖默认的少样本示例。
func WithAnalyzerFewShotExamples(examples string) DocumentAnalyzerOption {
	return func(a *DocumentAnalyzer) {
		a.fewShotExamples = examples
	}
}

// NewDocumentAnalyzer 创建简历画像抽取器。
func NewDocumentAnalyzer(llmModel model.ToolCallingChatModel, options ...DocumentAnalyzerOption) *DocumentAnalyzer {
	a := &DocumentAnalyzer{
		llmModel: llmModel,
		validate: validator.New(),
	}
	a.generatePromptTemplate()
	for _, opt := range options {
		opt(a)
	}
	if a.fewShotExamples == "" {
		a.generateFewShotExamples()
	}
	return a
}

func (a *DocumentAnalyzer) generatePromptTemplate() {
	a.promptTemplate = `你是一位资深的AI招聘信息抽取专家。你的任务是通读下面提供的【简历全文】（文本已包含基本的换行和分段结构），抽取出候选人的结构化画像，并严格按照指定的JSON格式输出。

**请严格遵循以下JSON输出格式规范：**
1.  **"full_name"**: 字符串，候选人姓名。简历中找不到时输出空字符串 ""。
2.  **"contact"**: 对象，包含 "email" 和 "phone" 两个字符串字段。简历中找不到对应信息时输出空字符串 ""，禁止编造。
3.  **"summary"**: 字符串 (严格控制在200字以内)，概括候选人的核心经历、技术栈和擅长领域，供后续人岗匹配使用，必须信息密度高。
4.  **"skills"**: 字符串数组，候选人掌握的技能关键词（技术栈、工具、框架、语言等），每项一个独立技能，避免整句描述。
5.  **"experience_level"**: 字符串，只能取以下五个值之一: "Junior", "Mid-level", "Senior", "Lead", "Unknown"。依据工作年限和职责推断：0-2年为 Junior，3-5年为 Mid-level，6年以上或有核心模块主导经验为 Senior，有团队/架构管理职责为 Lead，无法判断时为 Unknown。

**JSON格式细节要求：**
- 完整输出必须是一个合法的JSON对象。
- 所有字段名和字符串值都必须使用双引号。
- 字符串值内部如果包含双引号(")，必须使用反斜杠(\\")进行转义。
- 禁止在JSON结构之外输出任何额外文本、解释或Markdown标记。
- 禁止编造简历中不存在的信息：抽取不到就用空字符串或空数组。

【简历全文】:
"""
%s
"""

请基于以上所有指令，仔细抽取并输出JSON结果。`
}

func (a *DocumentAnalyzer) generateFewShotExamples() {
	a.fewShotExamples = `以下是一些简历画像抽取的示例，请学习其中的抽取逻辑：

示例1
【简历全文】:
"""
张伟
邮箱: zhangwei@example.com | 电话: 13800001111
计算机科学学士，7年前端开发经验。

核心技能:
 - 精通React生态系统 (React Hooks, Redux, React Router)。
 - 熟练使用TypeScript进行大型项目开发。

工作经历:
某大型互联网公司 高级前端工程师 2018.05 - 至今
 - 主导过3个大型SPA项目（用户量百万级）的前端架构设计与核心模块开发。
 - 成功将某核心产品首屏加载时间从4.2秒优化至1.8秒。
"""

示例输出:
{
  "full_name": "张伟",
  "contact": {
    "email": "zhangwei@example.com",
    "phone": "13800001111"
  },
  "summary": "7年前端开发经验的高级工程师，精通React生态与TypeScript，主导过多个百万级用户量的大型SPA项目的架构设计与核心模块开发，有显著的首屏性能优化成果。",
  "skills": ["React", "Redux", "React Router", "TypeScript", "前端性能优化", "SPA架构设计"],
  "experience_level": "Senior"
}

示例2 (演示：联系方式缺失时输出空字符串，不编造)
【简历全文】:
"""
李明
2023年毕业于某大学计算机专业，本科学历。

工作经验:
A公司 数据分析师 2023.07 - 至今
 - 负责用户行为分析和报表制作。
 - 使用Python, SQL, Tableau。
"""

示例输出:
{
  "full_name": "李明",
  "contact": {
    "email": "",
    "phone": ""
  },
  "summary": "2023年毕业的计算机专业本科生，现任数据分析师，负责用户行为分析和报表制作，熟练使用Python、SQL和Tableau。",
  "skills": ["Python", "SQL", "Tableau", "数据分析"],
  "experience_level": "Junior"
}`
}

// Analyze 对简历全文执行画像抽取。
// 联系方式缺失不会在这里报错，由调用方根据 Contact 内容决定如何处置。
func (a *DocumentAnalyzer) Analyze(ctx context.Context, cvText string) (*types.CandidateAnalysis, error) {
	if a.llmModel == nil {
		return nil, fmt.Errorf("DocumentAnalyzer: llmModel 未初始化")
	}
	if strings.TrimSpace(cvText) == "" {
		return nil, types.NewValidationError("简历文本为空，无法抽取")
	}

	tracer := otel.Tracer("talent-match.oracle")
	ctx, span := tracer.Start(ctx, "oracle.analyze_cv")
	defer span.End()
	span.SetAttributes(
		attribute.Int("cv.text_length", len(cvText)),
		attribute.String("cv.preview", tracing.SafeCVContent(cvText)),
	)

	systemBaseMessage := "你是一位资深的AI招聘信息抽取助手，专注于将简历文本转换为结构化候选人画像。"
	finalSystemMessage := systemBaseMessage
	if a.fewShotExamples != "" {
		var sb strings.Builder
		sb.WriteString(a.fewShotExamples)
		sb.WriteString("\n\n")
		sb.WriteString(systemBaseMessage)
		finalSystemMessage = sb.String()
	}

	messages := []*einoschema.Message{
		einoschema.SystemMessage(finalSystemMessage),
		einoschema.UserMessage(fmt.Sprintf(a.promptTemplate, cvText)),
	}

	response, err := a.llmModel.Generate(ctx, messages)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, types.NewUpstreamError("简历画像抽取的 LLM 调用失败", err)
	}
	if response == nil || response.Content == "" {
		err := fmt.Errorf("LLM 返回了空响应")
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, types.NewUpstreamError("简历画像抽取返回为空", err)
	}

	logger.FromContext(ctx).Debug().Int("response_length", len(response.Content)).Msg("收到简历画像抽取响应")

	analysis, err := a.parseAnalysis(response.Content)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return analysis, nil
}

func (a *DocumentAnalyzer) parseAnalysis(content string) (*types.CandidateAnalysis, error) {
	processed := strings.TrimPrefix(content, "\uFEFF")

	jsonStr := extractJSONFromResponse(processed)
	if jsonStr == "" {
		return nil, types.NewUpstreamError("无法从 LLM 响应中提取 JSON", fmt.Errorf("原始内容: %.300s", processed))
	}
	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var analysis types.CandidateAnalysis
	if err := json.Unmarshal([]byte(jsonStr), &analysis); err != nil {
		// 解析失败 -> 自动修复再试一次
		fixed := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixed), &analysis); jsonErr != nil {
			return nil, types.NewUpstreamError("简历画像 JSON 解析失败",
				fmt.Errorf("原始错误: %w，修复后错误: %v，JSON: %.500s", err, jsonErr, jsonStr))
		}
	}

	if analysis.ExperienceLevel == "" {
		analysis.ExperienceLevel = constants.ExperienceLevelUnknown
	}
	if analysis.Skills == nil {
		analysis.Skills = []string{}
	}

	// 结构能解析但必要字段缺失/非法, 归为校验失败
	if err := a.validate.Struct(&analysis); err != nil {
		return nil, types.NewValidationError("简历画像缺失必要字段: " + err.Error())
	}
	return &analysis, nil
}

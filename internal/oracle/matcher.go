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

// SemanticMatcher 封装人岗匹配的 LLM 调用和 Prompt 逻辑。
type SemanticMatcher struct {
	llmModel        model.ToolCallingChatModel
	promptTemplate  string
	fewShotExamples string
	validate        *validator.Validate
}

// SemanticMatcherOption 配置 SemanticMatcher。
type SemanticMatcherOption func(*SemanticMatcher)

// WithMatcherPromptTemplate 覆盖默认的匹配提示词模板。
func WithMatcherPromptTemplate(template string) SemanticMatcherOption {
	return func(m *SemanticMatcher) {
		m.promptTemplate = template
	}
}

// WithMatcherFewShotExamples 覆盖默认的少样本示例。
func WithMatcherFewShotExamples(examples string) SemanticMatcherOption {
	return func(m *SemanticMatcher) {
		m.fewShotExamples = examples
	}
}

// NewSemanticMatcher 创建一个新的人岗匹配评估器。
func NewSemanticMatcher(llmModel model.ToolCallingChatModel, options ...SemanticMatcherOption) *SemanticMatcher {
	m := &SemanticMatcher{
		llmModel: llmModel,
		validate: validator.New(),
	}
	m.generatePromptTemplate()
	for _, opt := range options {
		opt(m)
	}
	if m.fewShotExamples == "" {
		m.generateFewShotExamples()
	}
	return m
}

func (m *SemanticMatcher) generatePromptTemplate() {
	m.promptTemplate = `你是一位极其资深的AI招聘专家，具备精准识别人岗匹配度的火眼金睛。你的核心任务是基于下面提供的【岗位描述】和【候选人画像】，进行深度、细致的对比分析，并严格按照指定的JSON格式输出有区分度的匹配度评估。

**请严格遵循以下JSON输出格式规范：**
1.  **"match_score"**: 整数 (0-100)，反映整体匹配程度。
2.  **"match_explanation"**: 字符串 (严格控制在200字以内)，概括匹配结论的核心依据：哪些要求满足、哪些存在差距。避免空泛描述。
3.  **"matched_skills"**: 字符串数组，候选人技能中与岗位要求直接命中的技能关键词。完全没有命中时输出空数组 []。

**JSON格式细节要求：**
- 完整输出必须是一个合法的JSON对象。
- 所有字段名和字符串值都必须使用双引号。
- 字符串值内部如果包含双引号(")，必须使用反斜杠(\\")进行转义。
- 数组元素必须是字符串。
- 禁止在JSON结构之外输出任何额外文本、解释或Markdown标记。

**评分核心原则与权重（请务必严格遵守，以确保评估的专业性和一致性）：**

*   **一票否决项 (若不满足，match_score 通常应低于40分)：**
    *   【岗位描述】中明确声明的"必须具备/精通"的核心技术或经验，而候选人画像完全缺失或严重不符。
    *   【岗位描述】中明确的硬性资历要求（年限、学历）与候选人经验级别明显冲突。
*   **高权重因素 (显著影响分数)：**
    *   核心技能匹配度：候选人技能与岗位核心技能要求的吻合程度。
    *   经验级别契合度：候选人的经验级别是否能胜任岗位职责。
    *   画像摘要与岗位职责的直接相关性。
*   **低权重/加分项 (在核心能力满足前提下)：**
    *   超出岗位基础要求的、且对岗位有价值的额外技能。

**评分参考区间（目标是提供有区分度的评估）：**
- 95-100分: 完美候选人，所有关键要求均出色满足，并有显著亮点。
- 85-94分: 非常优秀，核心要求高度匹配。强烈推荐。
- 70-84分: 良好匹配，大部分核心要求满足，具备胜任潜力。值得面试。
- 50-69分: 一般匹配，部分核心要求满足，但存在明显差距。需谨慎考虑。
- 30-49分: 匹配度较低，一项或多项决定性因素不符。
- 0-29分: 基本不匹配或完全不相关。

【岗位描述】:
"""
%s
"""

【候选人画像】:
"""
%s
"""

请基于以上所有指令，仔细评估并输出JSON结果。`
}

func (m *SemanticMatcher) generateFewShotExamples() {
	m.fewShotExamples = `以下是一些人岗匹配度评估的示例，请学习其中的评估逻辑和区分度：

示例1 (演示：高度匹配)
【岗位描述】:
"Java后端开发工程师：负责公司电商系统的后端开发。需求3年以上Java开发经验，熟悉Spring Boot、微服务架构、MySQL优化，了解消息队列和缓存技术。有高并发系统经验优先。"

【候选人画像】:
"""
姓名: 刘芳
经验级别: Senior
摘要: 5年Java后端开发经验，主导过大型电商平台交易核心系统的微服务架构改造，有明确的MySQL优化成果（查询性能提升30%，日均10万订单），熟练运用Kafka和Redis解决高并发问题。
技能: Java, Spring Boot, Spring Cloud, MySQL调优, 分库分表, Kafka, Redis, 微服务架构
"""

示例输出:
{
  "match_score": 94,
  "match_explanation": "候选人5年Java经验超出岗位3年的要求，精通Spring生态并主导过电商微服务改造，与岗位方向高度一致。MySQL优化有可量化成果，且具备日均10万订单的高并发实践，命中岗位的优先项。无明显硬性差距。",
  "matched_skills": ["Java", "Spring Boot", "微服务架构", "MySQL调优", "Kafka", "Redis"]
}

示例2 (演示：决定性因素不符导致低分，即使部分技能相关)
【岗位描述】:
"高级前端工程师：要求5年以上前端开发经验，精通React，熟悉TypeScript，有大型SPA应用开发经验。"

【候选人画像】:
"""
姓名: 李明
经验级别: Junior
摘要: 2023年毕业的计算机专业本科生，现任数据分析师，负责用户行为分析和报表制作，熟练使用Python、SQL和Tableau。
技能: Python, SQL, Tableau, 数据分析
"""

示例输出:
{
  "match_score": 8,
  "match_explanation": "候选人是初级数据分析师，岗位要求5年以上前端开发经验并精通React，核心技术栈完全不符，经验级别也与岗位的高级定位明显冲突，属于决定性不匹配。",
  "matched_skills": []
}`
}

// Evaluate 执行岗位与候选人画像的匹配评估。
func (m *SemanticMatcher) Evaluate(ctx context.Context, jobText string, profileText string) (*types.MatchEvaluation, error) {
	if m.llmModel == nil {
		return nil, fmt.Errorf("SemanticMatcher: llmModel 未初始化")
	}
	if strings.TrimSpace(jobText) == "" || strings.TrimSpace(profileText) == "" {
		return nil, types.NewValidationError("岗位描述或候选人画像为空，无法评估")
	}

	tracer := otel.Tracer("talent-match.oracle")
	ctx, span := tracer.Start(ctx, "oracle.evaluate_match")
	defer span.End()
	span.SetAttributes(
		attribute.String("match.job_preview", tracing.SafeAttributeValue("job", jobText, tracing.MaxPromptLength)),
		attribute.Int("match.profile_length", len(profileText)),
	)

	systemBaseMessage := "你是一位资深的AI招聘助手，专注于分析岗位描述和候选人画像的匹配度。"
	finalSystemMessage := systemBaseMessage
	if m.fewShotExamples != "" {
		var sb strings.Builder
		sb.WriteString(m.fewShotExamples)
		sb.WriteString("\n\n")
		sb.WriteString(systemBaseMessage)
		finalSystemMessage = sb.String()
	}

	messages := []*einoschema.Message{
		einoschema.SystemMessage(finalSystemMessage),
		einoschema.UserMessage(fmt.Sprintf(m.promptTemplate, jobText, profileText)),
	}

	response, err := m.llmModel.Generate(ctx, messages)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, types.NewUpstreamError("人岗匹配的 LLM 调用失败", err)
	}
	if response == nil || response.Content == "" {
		err := fmt.Errorf("LLM 返回了空响应")
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, types.NewUpstreamError("人岗匹配评估返回为空", err)
	}

	logger.FromContext(ctx).Debug().Int("response_length", len(response.Content)).Msg("收到人岗匹配评估响应")

	evaluation, err := m.parseEvaluation(response.Content)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}
	span.SetAttributes(attribute.Int("match.score", evaluation.Score))
	span.SetStatus(codes.Ok, "")
	return evaluation, nil
}

func (m *SemanticMatcher) parseEvaluation(content string) (*types.MatchEvaluation, error) {
	processed := strings.TrimPrefix(content, "\uFEFF")

	jsonStr := extractJSONFromResponse(processed)
	if jsonStr == "" {
		return nil, types.NewUpstreamError("无法从 LLM 响应中提取 JSON", fmt.Errorf("原始内容: %.300s", processed))
	}
	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	var evaluation types.MatchEvaluation
	if err := json.Unmarshal([]byte(jsonStr), &evaluation); err != nil {
		// 解析失败 -> 自动修复再试一次
		fixed := sanitizeJSON(jsonStr)
		if jsonErr := json.Unmarshal([]byte(fixed), &evaluation); jsonErr != nil {
			return nil, types.NewUpstreamError("匹配评估 JSON 解析失败",
				fmt.Errorf("原始错误: %w，修复后错误: %v，JSON: %.500s", err, jsonErr, jsonStr))
		}
	}

	if evaluation.MatchedSkills == nil {
		evaluation.MatchedSkills = []string{}
	}

	// 越界分数归为校验失败, 绝不落库
	if evaluation.Score < constants.MatchScoreMin || evaluation.Score > constants.MatchScoreMax {
		return nil, types.NewValidationError(
			fmt.Sprintf("match_score 必须在 %d-%d 之间，实际为 %d", constants.MatchScoreMin, constants.MatchScoreMax, evaluation.Score))
	}
	// 结构能解析但必要字段缺失, 归为校验失败
	if err := m.validate.Struct(&evaluation); err != nil {
		return nil, types.NewValidationError("匹配评估缺失必要字段: " + err.Error())
	}
	return &evaluation, nil
}

package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"talent-match-go/internal/config"
	"talent-match-go/internal/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// UploadCV 上传原始简历到指定对象键, 返回文件MD5
	UploadCV(ctx context.Context, objectKey string, reader io.Reader, fileSize int64) (string, error)

	// GetCV 下载简历原始字节
	GetCV(ctx context.Context, objectKey string) ([]byte, error)

	// DeleteObject 删除对象, 上传校验失败时立即清理
	DeleteObject(ctx context.Context, objectKey string) error

	// GetPresignedURL 获取预签名下载URL
	GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client   *minio.Client
	cfg      *config.MinIOConfig
	cvBucket string
}

// NewMinIO 创建MinIO客户端并确保简历存储桶可用
func NewMinIO(cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	cvBucket := cfg.CVBucket
	if cvBucket == "" {
		cvBucket = "candidate-cv"
	}

	m := &MinIO{
		client:   client,
		cfg:      cfg,
		cvBucket: cvBucket,
	}

	if err := m.ensureBucketExists(cvBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保简历存储桶 %s 存在失败: %w", cvBucket, err)
	}

	if cfg.CVExpireDays > 0 {
		if err := m.setupBucketLifecycle(context.Background(), cvBucket, "expire-cv", cfg.CVExpireDays); err != nil {
			// 生命周期规则失败不阻塞启动
			logger.Warn().Err(err).Str("bucket", cvBucket).Msg("设置MinIO生命周期规则失败")
		}
	}

	logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cvBucket).Msg("MinIO客户端初始化完成")
	return m, nil
}

func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	exists, err := m.client.BucketExists(context.Background(), bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if !exists {
		err = m.client.MakeBucket(context.Background(), bucketName, minio.MakeBucketOptions{Region: location})
		if err != nil {
			return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
		}
		logger.Info().Str("bucket", bucketName).Msg("MinIO存储桶已创建")
	}
	return nil
}

func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	lcCfg := lifecycle.NewConfiguration()
	lcCfg.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucketName, lcCfg)
}

// UploadCV 流式上传简历到指定对象键并同时计算MD5
// 对象键由调用方决定, 形如 cv/{profileID}/{taskID}.pdf
func (m *MinIO) UploadCV(ctx context.Context, objectKey string, reader io.Reader, fileSize int64) (string, error) {
	contentType := getContentType(filepath.Ext(objectKey))

	md5Hash := md5.New()
	teeReader := io.TeeReader(reader, md5Hash)

	info, err := m.client.PutObject(ctx, m.cvBucket, objectKey, teeReader, fileSize,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传简历到MinIO失败: %w", err)
	}

	md5Hex := hex.EncodeToString(md5Hash.Sum(nil))
	logger.Debug().
		Str("object_key", objectKey).
		Str("etag", info.ETag).
		Int64("size", info.Size).
		Msg("简历上传完成")
	return md5Hex, nil
}

// UploadCVFromBytes 从字节数组上传简历
func (m *MinIO) UploadCVFromBytes(ctx context.Context, objectKey string, data []byte) (string, error) {
	return m.UploadCV(ctx, objectKey, bytes.NewReader(data), int64(len(data)))
}

// GetCV 下载简历原始字节
func (m *MinIO) GetCV(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.cvBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", m.cvBucket, objectKey, err)
	}
	defer obj.Close()

	// Stat 提前暴露对象不存在或无权限的问题
	stat, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 状态失败: %w", m.cvBucket, objectKey, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", m.cvBucket, objectKey, err)
	}
	logger.Debug().Str("object_key", objectKey).Int64("size", stat.Size).Msg("简历下载完成")
	return data, nil
}

// DeleteObject 删除对象
func (m *MinIO) DeleteObject(ctx context.Context, objectKey string) error {
	err := m.client.RemoveObject(ctx, m.cvBucket, objectKey, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("删除对象 %s 失败: %w", objectKey, err)
	}
	return nil
}

// GetPresignedURL 获取预签名下载URL
func (m *MinIO) GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	presignedURL, err := m.client.PresignedGetObject(ctx, m.cvBucket, objectKey, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成MinIO预签名URL失败: %w", err)
	}
	return presignedURL.String(), nil
}

// StatObject 暴露底层的StatObject方法, 供测试使用
func (m *MinIO) StatObject(ctx context.Context, objectKey string) (minio.ObjectInfo, error) {
	return m.client.StatObject(ctx, m.cvBucket, objectKey, minio.StatObjectOptions{})
}

func getContentType(ext string) string {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

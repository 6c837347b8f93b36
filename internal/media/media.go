package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	log "github.com/sirupsen/logrus"

	"blogplatform/internal/config"
)

var (
	ErrMissingCredentials = errors.New("media: cloud name, api key and api secret are required")
	ErrDisabled           = errors.New("media: integration disabled")
)

// Media は Cloudinary の設定を保持する。アップロード処理自体はここでは扱わない。
type Media struct {
	Client    *cloudinary.Cloudinary
	CloudName string
}

// Configure は認証情報から Cloudinary クライアントを作る。
// 認証情報が揃っていない場合は警告を出して無効状態 (Client == nil) で返す。
func Configure(cfg config.MediaConfig, logger *log.Entry) (*Media, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		logger.WithError(ErrMissingCredentials).Warn("media integration disabled")
		return &Media{}, nil
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("configure cloudinary: %w", err)
	}
	logger.WithField("cloud_name", cfg.CloudName).Info("media integration configured")
	return &Media{Client: cld, CloudName: cfg.CloudName}, nil
}

func (m *Media) Enabled() bool {
	return m != nil && m.Client != nil
}

// Check はヘルスチェック用
func (m *Media) Check(ctx context.Context) error {
	if !m.Enabled() {
		return ErrDisabled
	}
	return nil
}

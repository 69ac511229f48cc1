package sms

import (
	"context"
	"errors"
	"fmt"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dypnsapi "github.com/alibabacloud-go/dypnsapi-20170525/v3/client"
	teautil "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/aliyun/credentials-go/credentials"
)

// AliyunSender sends verification codes through the Aliyun SMS
// verification service and returns the generated code.
type AliyunSender struct {
	client       *dypnsapi.Client
	signName     string
	templateCode string
	codeLength   int64
	validSeconds int64
}

// AliyunConfig holds credentials and template settings for AliyunSender.
type AliyunConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	Endpoint        string
	SignName        string
	TemplateCode    string
	CodeLength      int64
	ValidSeconds    int64
}

// NewAliyunSender builds a sender from static credentials.
func NewAliyunSender(cfg AliyunConfig) (*AliyunSender, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, errors.New("sms access key required")
	}
	if cfg.SignName == "" || cfg.TemplateCode == "" {
		return nil, errors.New("sms sign name and template code required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "dypnsapi.aliyuncs.com"
	}
	codeLength := cfg.CodeLength
	if codeLength <= 0 {
		codeLength = 6
	}
	validSeconds := cfg.ValidSeconds
	if validSeconds <= 0 {
		validSeconds = 300
	}

	cred, err := credentials.NewCredential(&credentials.Config{
		Type:            tea.String("access_key"),
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
	})
	if err != nil {
		return nil, fmt.Errorf("init sms credential: %w", err)
	}
	client, err := dypnsapi.NewClient(&openapi.Config{
		Credential: cred,
		Endpoint:   tea.String(endpoint),
	})
	if err != nil {
		return nil, fmt.Errorf("init sms client: %w", err)
	}
	return &AliyunSender{
		client:       client,
		signName:     cfg.SignName,
		templateCode: cfg.TemplateCode,
		codeLength:   codeLength,
		validSeconds: validSeconds,
	}, nil
}

// Send asks the service to generate and deliver a code, and returns it
// so the caller can store a hash for verification.
func (s *AliyunSender) Send(ctx context.Context, phone string) (string, error) {
	req := &dypnsapi.SendSmsVerifyCodeRequest{
		PhoneNumber:      tea.String(phone),
		SignName:         tea.String(s.signName),
		TemplateCode:     tea.String(s.templateCode),
		TemplateParam:    tea.String(`{"code":"##code##"}`),
		ReturnVerifyCode: tea.Bool(true),
		CodeLength:       tea.Int64(s.codeLength),
		ValidTime:        tea.Int64(s.validSeconds),
	}
	resp, err := s.client.SendSmsVerifyCodeWithOptions(req, &teautil.RuntimeOptions{})
	if err != nil {
		return "", fmt.Errorf("send sms verify code: %w", err)
	}
	if resp == nil || resp.Body == nil || resp.Body.Model == nil {
		return "", errors.New("send sms verify code: empty response")
	}
	code := tea.StringValue(resp.Body.Model.VerifyCode)
	if code == "" {
		return "", errors.New("send sms verify code: missing code in response")
	}
	return code, nil
}

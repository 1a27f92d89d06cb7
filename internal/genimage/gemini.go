// Package genimage は Gemini の画像生成 API を利用した画像補正クライアントです。
package genimage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash-image-preview"

	requestTimeout = 120 * time.Second
)

// ErrNotConfigured は API キー未設定のまま補正を要求した場合に返されます。
var ErrNotConfigured = errors.New("画像補正機能が設定されていません(GEMINI_API_KEY を設定してください)")

// BlockedError は安全性ポリシーにより生成が拒否されたことを表します。
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("安全性ポリシーにより画像の生成が拒否されました: %s", e.Reason)
}

// EmptyError は応答に画像が含まれていなかったことを表します。
type EmptyError struct {
	Detail string
}

func (e *EmptyError) Error() string {
	if e.Detail == "" {
		return "モデルから画像が返されませんでした"
	}
	return fmt.Sprintf("モデルから画像が返されませんでした: %s", e.Detail)
}

// Image は生成された画像1枚です。
type Image struct {
	Data     []byte
	MimeType string
}

// Client は Gemini REST API のクライアントです。
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
}

// New はクライアントを作成します。apiKey が空でも作成は成功し、
// Ready がエラーを返すようになります。
func New(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		model:   model,
	}
}

// Ready は補正機能が利用可能かどうかを返します。API 呼び出しの前に
// 必ず確認し、未設定なら一切の状態変更を行わずに中断します。
func (c *Client) Ready() error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	return nil
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Generate は入力画像とプロンプトから補正済み画像を1枚生成します。
func (c *Client) Generate(ctx context.Context, imageData []byte, mimeType, prompt string) (*Image, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}

	payload := generateRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(imageData),
				}},
				{Text: prompt},
			},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("リクエストの生成に失敗しました: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("リクエストの生成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("画像補正 API への接続に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("画像補正 API がエラーを返しました (status %d): %s", resp.StatusCode, detail)
	}

	var r generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("応答の解析に失敗しました: %w", err)
	}

	if r.PromptFeedback.BlockReason != "" {
		return nil, &BlockedError{Reason: r.PromptFeedback.BlockReason}
	}
	if len(r.Candidates) == 0 {
		return nil, &EmptyError{}
	}

	cand := r.Candidates[0]
	if cand.FinishReason == "SAFETY" || cand.FinishReason == "PROHIBITED_CONTENT" {
		return nil, &BlockedError{Reason: cand.FinishReason}
	}
	for _, p := range cand.Content.Parts {
		if p.InlineData == nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("生成画像のデコードに失敗しました: %w", err)
		}
		mime := p.InlineData.MimeType
		if mime == "" {
			mime = "image/png"
		}
		return &Image{Data: data, MimeType: mime}, nil
	}
	return nil, &EmptyError{Detail: cand.FinishReason}
}

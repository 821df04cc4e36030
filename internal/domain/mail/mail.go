package mail

import "context"

// Message はメール送信リクエストを表す
// テンプレートの描画と実際の送信はメール配信側が行う
type Message struct {
	To       []string       `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// Mailer はメール送信を依頼するインターフェース
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

package models

// Config 構造体はデータベース接続とサーバー全体の設定情報を保持します。
type Config struct {
	DBHost     string `json:"db_host"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	DBName     string `json:"db_name"`
	DBSSLMode  string `json:"db_sslmode"`

	// MJ（ゲームマスター）用の共有トークン。運用時は必ず差し替えること
	MJToken string `json:"mj_token"`

	// LLM（ナレーション生成）の接続先。空の場合はオフラインフォールバックのみ
	LLMEndpoint string `json:"llm_endpoint"`
	LLMModel    string `json:"llm_model"`
}

package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingStore         string
	ServerListening    string
	ShuttingDown       string
	DryRunMode         string
	LiveMode           string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string
	PairRegistered     string

	// Engine
	EngineStarted        string
	EngineStopped        string
	ConfigChangedStopped string
	LedgerCleaned        string
	CannotSell           string
	CannotBuy            string
	TickAborted          string
	LedgerFailureStopped string
	BuyFilled            string
	SellFilled           string
	OrderNotFilled       string

	// Services
	ReconStarted  string
	ReconMismatch string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting spot accumulator...",
	ConfigLoaded:       "Configuration loaded, API port %s",
	UsingStore:         "Using %s ledger store: %s",
	ServerListening:    "API server listening on :%s",
	ShuttingDown:       "Shutting down...",
	DryRunMode:         "DRY RUN: orders are filled by the paper gateway",
	LiveMode:           "LIVE: orders are sent to Binance (testnet=%v)",
	ConfigLoadFailed:   "Config load failed: %v",
	DBInitFailed:       "Database init failed: %v",
	DBMigrationsFailed: "Database migrations failed: %v",
	APIServerError:     "API server error: %v",
	PairRegistered:     "Pair %s registered (tick %s)",

	// Engine
	EngineStarted:        "Trading has started",
	EngineStopped:        "Trading has stopped",
	ConfigChangedStopped: "Settings changed, the bot is stopped. Start it again to trade with the new settings",
	LedgerCleaned:        "Ledger cleaned, trading stopped",
	CannotSell:           "Can not SELL, empty %s balance",
	CannotBuy:            "Can not BUY, not enough %s balance (have %s, need %s)",
	TickAborted:          "Tick aborted (%s): %v",
	LedgerFailureStopped: "Ledger write failed after a confirmed %s, trading stopped: %v",
	BuyFilled:            "Bought %s at %s, average %s",
	SellFilled:           "Sold %s at %s, position closed",
	OrderNotFilled:       "%s order %s not filled (status %s)",

	// Services
	ReconStarted:  "Reconciliation service started (every %s)",
	ReconMismatch: "Exchange %s balance %s differs from ledger quantity %s",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "啟動現貨累積交易系統...",
	ConfigLoaded:       "配置已載入，API 連接埠 %s",
	UsingStore:         "使用 %s 帳本儲存：%s",
	ServerListening:    "API 伺服器監聽於 :%s",
	ShuttingDown:       "正在關閉...",
	DryRunMode:         "模擬模式：訂單由模擬閘道成交",
	LiveMode:           "實盤模式：訂單送往 Binance（測試網=%v）",
	ConfigLoadFailed:   "配置載入失敗：%v",
	DBInitFailed:       "資料庫初始化失敗：%v",
	DBMigrationsFailed: "資料庫遷移失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	PairRegistered:     "交易對 %s 已註冊（間隔 %s）",

	// Engine
	EngineStarted:        "交易已啟動",
	EngineStopped:        "交易已停止",
	ConfigChangedStopped: "參數已變更，機器人已停止。請重新啟動以使用新參數交易",
	LedgerCleaned:        "帳本已清除，交易已停止",
	CannotSell:           "無法賣出，%s 餘額為空",
	CannotBuy:            "無法買入，%s 餘額不足（持有 %s，需要 %s）",
	TickAborted:          "本輪中止（%s）：%v",
	LedgerFailureStopped: "%s 成交後帳本寫入失敗，交易已停止：%v",
	BuyFilled:            "以 %[2]s 買入 %[1]s，均價 %[3]s",
	SellFilled:           "以 %[2]s 賣出 %[1]s，持倉已平",
	OrderNotFilled:       "%s 訂單 %s 未成交（狀態 %s）",

	// Services
	ReconStarted:  "對帳服務已啟動（每 %s）",
	ReconMismatch: "交易所 %s 餘額 %s 與帳本數量 %s 不一致",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}

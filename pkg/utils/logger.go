package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ============================================================
// Структурированное логирование (zap)
// ============================================================

// LogConfig - настройки логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json или text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // stacktrace на warn, человекочитаемое время
}

// Logger - обёртка над zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создаёт логгер по конфигурации.
// Ошибка открытия файла не фатальна: логгер падает обратно на stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	z := zap.New(zapcore.NewCore(encoder, sink, level), opts...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// parseLevel переводит строку в уровень zap, по умолчанию info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitGlobalLogger создаёт логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger подменяет глобальный логгер (используется в тестах)
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая его при первом обращении
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// ============ Дочерние логгеры ============

// With возвращает новый логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.Logger.With(fields...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

func (l *Logger) WithComponent(name string) *Logger { return l.With(Component(name)) }
func (l *Logger) WithExchange(name string) *Logger { return l.With(Exchange(name)) }
func (l *Logger) WithSymbol(symbol string) *Logger { return l.With(Symbol(symbol)) }
func (l *Logger) WithSetupID(id int64) *Logger { return l.With(SetupID(id)) }

// Sugar возвращает printf-style логгер
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============ Глобальные функции ============

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{}) { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{}) { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }

// ============ Доменные поля ============

func Exchange(name string) zap.Field { return zap.String("exchange", name) }
func Symbol(symbol string) zap.Field { return zap.String("symbol", symbol) }
func SetupID(id int64) zap.Field { return zap.Int64("setup_id", id) }
func SignalID(id int64) zap.Field { return zap.Int64("signal_id", id) }
func PositionID(id int64) zap.Field { return zap.Int64("position_id", id) }
func OrderID(id string) zap.Field { return zap.String("order_id", id) }
func Price(p float64) zap.Field { return zap.Float64("price", p) }
func Volume(v float64) zap.Field { return zap.Float64("volume", v) }
func PNL(v float64) zap.Field { return zap.Float64("pnl", v) }
func Side(side string) zap.Field { return zap.String("side", side) }
func State(state string) zap.Field { return zap.String("state", state) }
func Timeframe(tf string) zap.Field { return zap.String("timeframe", tf) }
func Reason(reason string) zap.Field { return zap.String("reason", reason) }
func Latency(ms float64) zap.Field { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field { return zap.String("request_id", id) }
func Account(id string) zap.Field { return zap.String("account", id) }
func Component(name string) zap.Field { return zap.String("component", name) }
func Advisory(id string) zap.Field { return zap.String("advisory", id) }
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Int64(k string, v int64) zap.Field { return zap.Int64(k, v) }
func Float64(k string, v float64) zap.Field { return zap.Float64(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field { return zap.Error(err) }
func Any(k string, v interface{}) zap.Field { return zap.Any(k, v) }

// fieldsToInterface раскладывает поля в пары ключ-значение для SugaredLogger
func fieldsToInterface(fields []zap.Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		enc := zapcore.NewMapObjectEncoder()
		f.AddTo(enc)
		out = append(out, f.Key, enc.Fields[f.Key])
	}
	return out
}

// Infow пишет сообщение через sugar с полями zap
func (l *Logger) Infow(msg string, fields ...zap.Field) {
	l.sugar.Infow(msg, fieldsToInterface(fields)...)
}

package logger

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/alphabill-org/wsv/types"
)

/*
Log attribute key values. Generally shouldn't be used directly, use
appropriate "attribute constructor function" instead.

Only define names here if they are common for multiple packages.
*/
const (
	ModuleKey  = "module"
	ErrorKey   = "err"
	DataKey    = "data"
	HeightKey  = "height"
	TxHashKey  = "tx_hash"
	AccountKey = "account"
	TagKey     = "tag"
	BackendKey = "backend"
)

/*
Error adds error to the log

	if err:= f(); err != nil {
		log.Error("calling f", logger.Error(err))
	}
*/
func Error(err error) slog.Attr {
	return slog.Any(ErrorKey, err)
}

/*
Data adds additional data field to the message.

Use of anonymous types is discouraged, in the ECS format the value is nested
under its type name.
*/
func Data(d any) slog.Attr {
	return slog.Any(DataKey, d)
}

// Height is the height of the block the logging call is about.
func Height(h uint64) slog.Attr {
	return slog.Uint64(HeightKey, h)
}

func TxHash(h types.Hash) slog.Attr {
	return slog.String(TxHashKey, h.String())
}

// Account is the account the logging call is about, usually creator of a transaction.
func Account(id types.AccountID) slog.Attr {
	return slog.String(AccountKey, string(id))
}

/*
Tag identifies an invocation of the storage through the reconnection wrapper,
all log records of the invocation and its retries share the tag.
*/
func Tag(tag string) slog.Attr {
	return slog.String(TagKey, tag)
}

// Backend is the kind of the store (memory, bolt, leveldb, postgres).
func Backend(name string) slog.Attr {
	return slog.String(BackendKey, name)
}

// composeAttrFmt combines attribute formatters into single func, nil values are discarded.
// Chain stops when a formatter drops the attribute.
func composeAttrFmt(f ...func(groups []string, a slog.Attr) slog.Attr) func(groups []string, a slog.Attr) slog.Attr {
	f = slices.DeleteFunc(f, func(f func(groups []string, a slog.Attr) slog.Attr) bool { return f == nil })
	switch len(f) {
	case 0:
		return nil
	case 1:
		return f[0]
	default:
		return func(groups []string, a slog.Attr) slog.Attr {
			for _, fn := range f {
				if a = fn(groups, a); a.Key == "" {
					return a
				}
			}
			return a
		}
	}
}

func formatTimeAttr(format string) func(groups []string, a slog.Attr) slog.Attr {
	switch format {
	case "":
		return nil
	case "none":
		return func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	default:
		return func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t := a.Value.Time(); !t.IsZero() {
					a.Value = slog.StringValue(t.Format(format))
				}
			}
			return a
		}
	}
}

// formatLevelAttr gives the custom levels (trace) a name.
func formatLevelAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

func formatDataAttrAsJSON(groups []string, a slog.Attr) slog.Attr {
	if a.Key == DataKey && a.Value.Kind() == slog.KindAny {
		if b, err := json.Marshal(a.Value.Any()); err == nil {
			a.Value = slog.StringValue(string(b))
		}
	}
	return a
}

/*
formatAttrECS formats the well known attributes according to the Elastic
Common Schema.
*/
func formatAttrECS(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.MessageKey:
		return slog.String("message", a.Value.String())
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			trimSource(src)
			return slog.Group(
				"log",
				slog.Group(
					"origin",
					slog.String("function", src.Function),
					slog.Group("file", slog.String("name", src.File), slog.Int("line", src.Line)),
				),
			)
		}
	case ErrorKey:
		return slog.Group("error", slog.Any("message", a.Value.Any()))
	case HeightKey:
		return slog.Group("block", slog.Any("height", a.Value))
	case TxHashKey:
		return slog.Group("transaction", slog.String("id", a.Value.String()))
	case AccountKey:
		return slog.Group("user", slog.String("name", a.Value.String()))
	case DataKey:
		// values of different type under the same key would conflict in the index
		return slog.Group(DataKey, slog.Any(dataName(a.Value), a.Value))
	}
	return a
}

// dataName returns name of the type of "v" usable as JSON key.
func dataName(v slog.Value) string {
	switch v.Kind() {
	case slog.KindAny, slog.KindLogValuer:
		rt := reflect.TypeOf(v.Any())
		if rt == nil {
			return "nil"
		}
		return strings.ReplaceAll(strings.TrimLeft(rt.String(), "*"), ".", "_")
	default:
		return v.Kind().String()
	}
}

// trimSource strips the package path from the function name in "src".
func trimSource(src *slog.Source) {
	_, src.Function = filepath.Split(src.Function)
	if s := strings.SplitAfterN(src.Function, ".", 2); len(s) == 2 {
		src.Function = s[1]
	}
}

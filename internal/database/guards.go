package database

import (
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"discord-guard-bot/internal/models"
)

// decodeGuards normalizes the stored guards document. A value is either a
// bare boolean or an object carrying "enabled" plus arbitrary extras; any
// other shape reads as disabled.
func decodeGuards(raw []byte) map[models.Guard]models.GuardSetting {
	out := make(map[models.Guard]models.GuardSetting)
	if !gjson.ValidBytes(raw) {
		return out
	}

	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		out[models.Guard(k.String())] = decodeGuardValue(v)
		return true
	})
	return out
}

func decodeGuardValue(v gjson.Result) models.GuardSetting {
	switch {
	case v.Type == gjson.True || v.Type == gjson.False:
		return models.GuardSetting{Enabled: v.Bool()}
	case v.IsObject():
		s := models.GuardSetting{Enabled: v.Get("enabled").Bool()}
		v.ForEach(func(k, x gjson.Result) bool {
			if k.String() == "enabled" {
				return true
			}
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[k.String()] = x.Value()
			return true
		})
		return s
	default:
		return models.GuardSetting{}
	}
}

// encodeGuards writes settings without extras as bare booleans and the rest
// as objects.
func encodeGuards(guards map[models.Guard]models.GuardSetting) ([]byte, error) {
	doc := make(map[string]any, len(guards))
	for g, s := range guards {
		if len(s.Extra) == 0 {
			doc[string(g)] = s.Enabled
			continue
		}
		obj := make(map[string]any, len(s.Extra)+1)
		for k, v := range s.Extra {
			obj[k] = v
		}
		obj["enabled"] = s.Enabled
		doc[string(g)] = obj
	}
	return json.Marshal(doc)
}

func decodeLimits(raw []byte) map[models.Guard]int {
	out := make(map[models.Guard]int)
	if !gjson.ValidBytes(raw) {
		return out
	}
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		if v.Type == gjson.Number {
			out[models.Guard(k.String())] = int(v.Int())
		}
		return true
	})
	return out
}

func encodeLimits(limits map[models.Guard]int) ([]byte, error) {
	doc := make(map[string]int, len(limits))
	for g, n := range limits {
		doc[string(g)] = n
	}
	return json.Marshal(doc)
}

package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Reply is the parsed model output for one turn.
type Reply struct {
	SQL          string
	Explanation  string
	ChartKind    string
	Params       map[string]string
	Complex      bool
	SecondarySQL []string // extra non-SELECT blocks, surfaced but never run
}

// replyEnvelope mirrors the output contract the composer demands.
type replyEnvelope struct {
	SQL         string         `json:"sql"`
	Explanation string         `json:"explanation"`
	ChartKind   string         `json:"chart_kind"`
	Params      map[string]any `json:"params"`
	Complex     bool           `json:"complex"`
}

var fencedBlockRe = regexp.MustCompile("(?s)```([a-zA-Z0-9]*)\n?(.*?)```")

// ParseReply 解析模型回复：优先取 fenced JSON 信封，失败时宽松回退到裸 JSON
// 对象，再退到第一段 fenced SQL。回复中额外携带的非 SELECT 代码块记入
// SecondarySQL，由上层提示用户手工执行。
func ParseReply(raw string) (*Reply, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, Fail("shape", KindSqlEmpty, fmt.Errorf("model reply is empty"))
	}

	blocks := fencedBlockRe.FindAllStringSubmatch(raw, -1)

	var reply *Reply
	consumed := -1
	for i, block := range blocks {
		lang := strings.ToLower(block[1])
		body := strings.TrimSpace(block[2])
		if lang != "" && lang != "json" {
			continue
		}
		if env, ok := decodeEnvelope(body); ok {
			reply = envelopeToReply(env)
			consumed = i
			break
		}
	}

	if reply == nil {
		// permissive fallback: a bare JSON object somewhere in the text
		if env, ok := decodeEnvelope(extractObject(raw)); ok {
			reply = envelopeToReply(env)
		}
	}

	if reply == nil {
		// last resort: the first fenced sql block is the statement
		for i, block := range blocks {
			lang := strings.ToLower(block[1])
			if lang == "sql" || lang == "" {
				body := strings.TrimSpace(block[2])
				if body != "" {
					reply = &Reply{SQL: body}
					consumed = i
					break
				}
			}
		}
	}

	if reply == nil || strings.TrimSpace(reply.SQL) == "" {
		return nil, Fail("shape", KindSqlEmpty, fmt.Errorf("no SQL found in model reply"))
	}

	for i, block := range blocks {
		if i == consumed {
			continue
		}
		lang := strings.ToLower(block[1])
		if lang != "sql" && lang != "" {
			continue
		}
		body := strings.TrimSpace(block[2])
		if body == "" || body == strings.TrimSpace(reply.SQL) {
			continue
		}
		if !startsReadOnly(body) {
			reply.SecondarySQL = append(reply.SecondarySQL, body)
			reply.Complex = true
		}
	}

	return reply, nil
}

func decodeEnvelope(body string) (*replyEnvelope, bool) {
	if body == "" || !strings.HasPrefix(strings.TrimSpace(body), "{") {
		return nil, false
	}
	var env replyEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, false
	}
	if strings.TrimSpace(env.SQL) == "" {
		return nil, false
	}
	return &env, true
}

func envelopeToReply(env *replyEnvelope) *Reply {
	reply := &Reply{
		SQL:         strings.TrimSpace(env.SQL),
		Explanation: strings.TrimSpace(env.Explanation),
		ChartKind:   strings.ToLower(strings.TrimSpace(env.ChartKind)),
		Complex:     env.Complex,
	}
	if len(env.Params) > 0 {
		reply.Params = make(map[string]string, len(env.Params))
		for k, v := range env.Params {
			switch t := v.(type) {
			case string:
				reply.Params[k] = t
			case float64:
				// keep integers free of the decimal point JSON forced on them
				if t == float64(int64(t)) {
					reply.Params[k] = fmt.Sprintf("%d", int64(t))
				} else {
					reply.Params[k] = fmt.Sprintf("%v", t)
				}
			case nil:
				reply.Params[k] = ""
			default:
				reply.Params[k] = fmt.Sprintf("%v", t)
			}
		}
	}
	return reply
}

// extractObject returns the first balanced top-level {...} region of s,
// tracking JSON string syntax so braces inside strings do not count.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// startsReadOnly reports whether a block's first keyword is SELECT or WITH.
func startsReadOnly(body string) bool {
	upper := strings.ToUpper(strings.TrimSpace(body))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

package session

import (
	"encoding/json"
	"fmt"

	"marketfeed/internal/candle"
)

// Default and clamp bounds for subscribe's initialBars.
const (
	defaultInitialBars = 100
	minInitialBars     = 1
	maxInitialBars     = 1000
)

// inbound is the tagged union of client→server messages. The discriminant
// (Type) is validated before any other field is read.
type inbound struct {
	Type         string `json:"type"`
	Symbol       string `json:"symbol"`
	Interval     string `json:"interval"`
	InitialBars  *int   `json:"initialBars"`
}

// SubscribeRequest is a parsed, not-yet-validated subscribe message.
type SubscribeRequest struct {
	Symbol      string
	Interval    string
	InitialBars int
}

// UnsubscribeRequest is a parsed unsubscribe message.
type UnsubscribeRequest struct {
	Symbol   string
	Interval string
}

// ParsedMessage is the result of parsing one inbound text frame.
type ParsedMessage struct {
	Subscribe   *SubscribeRequest
	Unsubscribe *UnsubscribeRequest
	Ping        bool
}

// ParseMessage decodes one inbound text frame. Any parse failure or unknown
// discriminant yields a ProtocolError; the caller replies with an error
// message and keeps the session open.
func ParseMessage(data []byte) (ParsedMessage, error) {
	var raw inbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return ParsedMessage{}, &ProtocolError{Message: fmt.Sprintf("invalid JSON: %v", err)}
	}

	switch raw.Type {
	case "subscribe":
		bars := defaultInitialBars
		if raw.InitialBars != nil {
			bars = clampInitialBars(*raw.InitialBars)
		}
		return ParsedMessage{Subscribe: &SubscribeRequest{
			Symbol:      raw.Symbol,
			Interval:    raw.Interval,
			InitialBars: bars,
		}}, nil
	case "unsubscribe":
		return ParsedMessage{Unsubscribe: &UnsubscribeRequest{
			Symbol:   raw.Symbol,
			Interval: raw.Interval,
		}}, nil
	case "ping":
		return ParsedMessage{Ping: true}, nil
	case "":
		return ParsedMessage{}, &ProtocolError{Message: "missing message type"}
	default:
		return ParsedMessage{}, &ProtocolError{Message: fmt.Sprintf("unknown message type: %s", raw.Type)}
	}
}

func clampInitialBars(n int) int {
	if n < minInitialBars {
		return minInitialBars
	}
	if n > maxInitialBars {
		return maxInitialBars
	}
	return n
}

// ProtocolError represents malformed JSON, an unknown type, or a schema
// violation. It always maps to an "error" reply with the session left open.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

// outbound message constructors. Each mirrors the exact wire shape from the
// external interfaces section.

type initialMessage struct {
	Type     string          `json:"type"`
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Bars     []candle.Candle `json:"bars"`
}

type updateMessage struct {
	Type     string        `json:"type"`
	Symbol   string        `json:"symbol"`
	Interval string        `json:"interval"`
	Bar      candle.Candle `json:"bar"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongMessage struct {
	Type string `json:"type"`
}

func newInitialMessage(symbol, interval string, bars []candle.Candle) initialMessage {
	return initialMessage{Type: "initial", Symbol: symbol, Interval: interval, Bars: bars}
}

func newUpdateMessage(symbol, interval string, bar candle.Candle) updateMessage {
	return updateMessage{Type: "update", Symbol: symbol, Interval: interval, Bar: bar}
}

func newErrorMessage(message string) errorMessage {
	return errorMessage{Type: "error", Message: message}
}

func newPongMessage() pongMessage {
	return pongMessage{Type: "pong"}
}

// InvalidIntervalMessage builds the protocol error text for an unsupported
// interval.
func InvalidIntervalMessage(got string) string {
	return fmt.Sprintf("Invalid interval: %s. Valid: %s", got, joinNames(candle.ValidIntervalNames()))
}

// InvalidSymbolMessage builds the exact protocol error text for an
// unsupported symbol.
func InvalidSymbolMessage(got, supported string) string {
	return fmt.Sprintf("Invalid symbol: %s. Only %s is supported.", got, supported)
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

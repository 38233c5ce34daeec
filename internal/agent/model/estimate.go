package model

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

// Estimate is the structured record embedded in an assistant response.
// Once parsed it is treated as immutable; deletions live in the ledger overlay.
type Estimate struct {
	Project      string      `json:"project"`
	InvoiceGroup []LineGroup `json:"invoiceGroup"`
	Total        Total       `json:"total"`
}

type LineGroup struct {
	Category string     `json:"category"`
	Items    []LineItem `json:"items"`
}

type LineItem struct {
	ID          ItemID    `json:"id"`
	Feature     string    `json:"feature"`
	Description string    `json:"description"`
	Amount      FlexValue `json:"amount"`
	Duration    FlexValue `json:"duration"`
	Pages       FlexValue `json:"pages"`
	Menu        string    `json:"menu,omitempty"`
	Note        string    `json:"note,omitempty"`
}

type Total struct {
	Amount                FlexValue `json:"amount"`
	Duration              FlexValue `json:"duration"`
	Pages                 FlexValue `json:"pages"`
	TotalConvertedDisplay string    `json:"totalConvertedDisplay,omitempty"`
}

// Items returns every line item in group order.
func (e *Estimate) Items() []LineItem {
	if e == nil {
		return nil
	}
	var items []LineItem
	for _, g := range e.InvoiceGroup {
		items = append(items, g.Items...)
	}
	return items
}

// ItemID accepts both string and numeric ids from the model output.
type ItemID string

func (id *ItemID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := sonic.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("item id: unsupported literal %s", b)
	}
	*id = ItemID(b)
	return nil
}

// FlexValue is a JSON scalar that may be a number or a string. Amounts use the
// string form for sentinels such as "quote on request"; durations and page
// counts use it for unit-bearing text such as "5 days".
type FlexValue struct {
	Number   float64
	Text     string
	IsNumber bool
	Present  bool
}

func Num(v float64) FlexValue {
	return FlexValue{Number: v, IsNumber: true, Present: true}
}

func Text(s string) FlexValue {
	return FlexValue{Text: s, Present: true}
}

// String renders the value the way it would appear in JSON text.
func (v FlexValue) String() string {
	switch {
	case !v.Present:
		return ""
	case v.IsNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	default:
		return v.Text
	}
}

func (v FlexValue) MarshalJSON() ([]byte, error) {
	switch {
	case !v.Present:
		return []byte("null"), nil
	case v.IsNumber:
		return []byte(strconv.FormatFloat(v.Number, 'f', -1, 64)), nil
	default:
		return sonic.Marshal(v.Text)
	}
}

func (v *FlexValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = FlexValue{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := sonic.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("flex value: unsupported literal %s", b)
	}
	*v = Num(f)
	return nil
}

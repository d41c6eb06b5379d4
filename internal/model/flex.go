package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexString は数値と文字列のどちらでも届くベンダーのID項目を受け取る。
// nullは空文字列として扱う。
type FlexString string

// UnmarshalJSON は文字列・数値・nullを受け付ける。
func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("flex string: %w", err)
		}
		*s = FlexString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: unsupported value %s", string(b))
	}
	*s = FlexString(n.String())
	return nil
}

// String は値を文字列として返す。
func (s FlexString) String() string {
	return string(s)
}

// FlexFloat は "25.00" のような文字列表現の金額も受け付ける数値。
type FlexFloat float64

// UnmarshalJSON は数値・数値文字列・空文字列・nullを受け付ける。
func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("flex float: %w", err)
		}
		v = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "$"))
		if v == "" {
			*f = 0
			return nil
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("flex float: %w", err)
		}
		*f = FlexFloat(parsed)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("flex float: %w", err)
	}
	*f = FlexFloat(v)
	return nil
}

// Float64 はfloat64値を返す。
func (f FlexFloat) Float64() float64 {
	return float64(f)
}

// FlexInt は "4" のような文字列表現も受け付ける整数。
type FlexInt int

// UnmarshalJSON は整数・整数文字列・空文字列・nullを受け付ける。
func (n *FlexInt) UnmarshalJSON(b []byte) error {
	var f FlexFloat
	if err := f.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("flex int: %w", err)
	}
	*n = FlexInt(f)
	return nil
}

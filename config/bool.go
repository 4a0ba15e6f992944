// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"strings"
)

// Truthy values (case-insensitive).
var truthyValues = map[string]bool{
	"1": true, "y": true, "t": true,
	"yes": true, "true": true, "on": true, "ok": true,
	"enable": true, "enabled": true,
}

// Falsy values (case-insensitive).
var falsyValues = map[string]bool{
	"0": true, "n": true, "f": true,
	"no": true, "false": true, "off": true,
	"disable": true, "disabled": true,
}

// ParseBoolWithDefault parses s into a boolean using the truthy/falsy
// vocabulary above. An empty string returns defaultVal.
func ParseBoolWithDefault(s string, defaultVal bool) (bool, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	if s == "" {
		return defaultVal, nil
	}
	if truthyValues[s] {
		return true, nil
	}
	if falsyValues[s] {
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %q", s)
}

// MustParseBool parses s into a boolean, panics on invalid value.
// Use only during initialization where invalid config should halt startup.
func MustParseBool(s string, defaultVal bool) bool {
	val, err := ParseBoolWithDefault(s, defaultVal)
	if err != nil {
		panic(err)
	}
	return val
}

// IsTruthy returns true only for recognized truthy values.
func IsTruthy(s string) bool {
	return truthyValues[strings.TrimSpace(strings.ToLower(s))]
}

// IsFalsy returns true only for recognized falsy values.
func IsFalsy(s string) bool {
	return falsyValues[strings.TrimSpace(strings.ToLower(s))]
}

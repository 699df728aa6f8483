// Package palette implements named colours and colour blending.
package palette

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hexRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

var named = map[string]string{
	"black":  "#000000",
	"white":  "#ffffff",
	"red":    "#ff0000",
	"green":  "#008000",
	"blue":   "#0000ff",
	"yellow": "#ffff00",
	"orange": "#ffa500",
	"purple": "#800080",
	"grey":   "#808080",
	"gray":   "#808080",
}

// Colour resolves a colour name or #rrggbb string to lowercase hex.
func Colour(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if hex, ok := named[key]; ok {
		return hex, nil
	}
	if hexRegex.MatchString(key) {
		return key, nil
	}
	return "", fmt.Errorf("unknown colour %q", name)
}

// Blend mixes two colours; ratio 0 yields a and ratio 1 yields b.
func Blend(a, b string, ratio float64) (string, error) {
	if ratio < 0 || ratio > 1 {
		return "", fmt.Errorf("blend: ratio must be in [0, 1], got %g", ratio)
	}
	ca, err := Colour(a)
	if err != nil {
		return "", err
	}
	cb, err := Colour(b)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	out.WriteByte('#')
	for i := 1; i < 7; i += 2 {
		va, _ := strconv.ParseUint(ca[i:i+2], 16, 8)
		vb, _ := strconv.ParseUint(cb[i:i+2], 16, 8)
		mixed := float64(va)*(1-ratio) + float64(vb)*ratio
		fmt.Fprintf(&out, "%02x", int(mixed+0.5))
	}
	return out.String(), nil
}

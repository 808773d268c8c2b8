// Package numwords spells small integers as Persian words.
package numwords

import (
	"fmt"
	"strconv"
)

// MaxFA is the largest value FA can spell.
const MaxFA = 1000

const faJoin = " و "

var (
	faOnes     = [...]string{"صفر", "یک", "دو", "سه", "چهار", "پنج", "شش", "هفت", "هشت", "نه"}
	faTeens    = [...]string{"ده", "یازده", "دوازده", "سیزده", "چهارده", "پانزده", "شانزده", "هفده", "هجده", "نوزده"}
	faTens     = [...]string{2: "بیست", 3: "سی", 4: "چهل", 5: "پنجاه", 6: "شصت", 7: "هفتاد", 8: "هشتاد", 9: "نود"}
	faHundreds = [...]string{1: "صد", 2: "دویست", 3: "سیصد", 4: "چهارصد", 5: "پانصد", 6: "ششصد", 7: "هفتصد", 8: "هشتصد", 9: "نهصد"}
)

// RangeError is returned for values FA cannot spell.
type RangeError struct{ N int }

func (e *RangeError) Error() string {
	return fmt.Sprintf("numwords: %d out of range 0..%d", e.N, MaxFA)
}

// FA returns the Persian words for n in 0..1000, e.g. 21 -> "بیست و یک".
func FA(n int) (string, error) {
	if n < 0 || n > MaxFA {
		return "", &RangeError{N: n}
	}
	return fa(n), nil
}

func fa(n int) string {
	switch {
	case n == 1000:
		return "هزار"
	case n < 10:
		return faOnes[n]
	case n < 20:
		return faTeens[n-10]
	case n < 100:
		t, o := n/10, n%10
		if o == 0 {
			return faTens[t]
		}
		return faTens[t] + faJoin + faOnes[o]
	default:
		h, rest := n/100, n%100
		if rest == 0 {
			return faHundreds[h]
		}
		return faHundreds[h] + faJoin + fa(rest)
	}
}

// Tick renders a counter value as "<n> - <words>". Values FA cannot spell
// are rendered as digits only.
func Tick(n int) string {
	s := strconv.Itoa(n)
	if w, err := FA(n); err == nil {
		return s + " - " + w
	}
	return s
}

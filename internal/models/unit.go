package models

import (
	"fmt"
	"strconv"
	"strings"
)

type Prayer string

const (
	Fajr    Prayer = "fajr"
	Dhuhr   Prayer = "dhuhr"
	Asr     Prayer = "asr"
	Maghrib Prayer = "maghrib"
	Isha    Prayer = "isha"
)

// Prayers — все молитвы дня в порядке следования.
var Prayers = []Prayer{Fajr, Dhuhr, Asr, Maghrib, Isha}

func (p Prayer) Valid() bool {
	for _, x := range Prayers {
		if x == p {
			return true
		}
	}
	return false
}

// Unit — единица учёта внутри дня: номер пары либо молитва.
// Ровно одно из полей заполнено.
type Unit struct {
	Period int
	Prayer Prayer
}

func PeriodUnit(n int) Unit    { return Unit{Period: n} }
func PrayerUnit(p Prayer) Unit { return Unit{Prayer: p} }

func (u Unit) IsPeriod() bool { return u.Period > 0 && u.Prayer == "" }
func (u Unit) IsPrayer() bool { return u.Prayer != "" && u.Period == 0 }

func (u Unit) Valid() bool {
	return u.IsPeriod() || (u.IsPrayer() && u.Prayer.Valid())
}

// Key — "period:2" / "prayer:fajr".
func (u Unit) Key() string {
	if u.IsPrayer() {
		return "prayer:" + string(u.Prayer)
	}
	return "period:" + strconv.Itoa(u.Period)
}

func (u Unit) String() string { return u.Key() }

// ParseUnit принимает как канонический ключ, так и короткие формы ("2", "fajr").
func ParseUnit(s string) (Unit, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "period:"):
		s = strings.TrimPrefix(s, "period:")
	case strings.HasPrefix(s, "prayer:"):
		s = strings.TrimPrefix(s, "prayer:")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return Unit{}, fmt.Errorf("bad period %d", n)
		}
		return PeriodUnit(n), nil
	}
	p := Prayer(s)
	if !p.Valid() {
		return Unit{}, fmt.Errorf("bad unit %q", s)
	}
	return PrayerUnit(p), nil
}

func (u Unit) MarshalText() ([]byte, error) { return []byte(u.Key()), nil }

func (u *Unit) UnmarshalText(b []byte) error {
	v, err := ParseUnit(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

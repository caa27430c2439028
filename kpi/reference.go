package kpi

import (
	"context"
	"fmt"

	"github.com/ethstat/kpi-dashboard/ethiocal"
)

// DefaultQuarters are the four quarters of the Ethiopian fiscal year.
func DefaultQuarters() []Quarter {
	return []Quarter{
		{Number: 1, TitleENG: "First Quarter", TitleAMH: "አንደኛ ሩብ ዓመት"},
		{Number: 2, TitleENG: "Second Quarter", TitleAMH: "ሁለተኛ ሩብ ዓመት"},
		{Number: 3, TitleENG: "Third Quarter", TitleAMH: "ሶስተኛ ሩብ ዓመት"},
		{Number: 4, TitleENG: "Fourth Quarter", TitleAMH: "አራተኛ ሩብ ዓመት"},
	}
}

// DefaultMonths are the twelve 30-day Ethiopian months. Pagume carries no
// monthly data and has no row.
func DefaultMonths() []Month {
	return []Month{
		{Number: 1, NameENG: "Meskerem", NameAMH: "መስከረም"},
		{Number: 2, NameENG: "Tikimt", NameAMH: "ጥቅምት"},
		{Number: 3, NameENG: "Hidar", NameAMH: "ኅዳር"},
		{Number: 4, NameENG: "Tahsas", NameAMH: "ታኅሣሥ"},
		{Number: 5, NameENG: "Tir", NameAMH: "ጥር"},
		{Number: 6, NameENG: "Yekatit", NameAMH: "የካቲት"},
		{Number: 7, NameENG: "Megabit", NameAMH: "መጋቢት"},
		{Number: 8, NameENG: "Miyazia", NameAMH: "ሚያዝያ"},
		{Number: 9, NameENG: "Ginbot", NameAMH: "ግንቦት"},
		{Number: 10, NameENG: "Sene", NameAMH: "ሰኔ"},
		{Number: 11, NameENG: "Hamle", NameAMH: "ሐምሌ"},
		{Number: 12, NameENG: "Nehase", NameAMH: "ነሐሴ"},
	}
}

// MonthName returns the English name of an Ethiopian month, including
// Pagume (13). Unknown numbers give "".
func MonthName(number int) string {
	if number == ethiocal.Pagume {
		return "Pagume"
	}
	for _, m := range DefaultMonths() {
		if m.Number == number {
			return m.NameENG
		}
	}
	return ""
}

// SeedReference inserts the quarter and month rows that are missing.
// Existing rows are left as they are, so seeding can run on every start.
func (e *Engine) SeedReference(ctx context.Context) error {
	return e.withTx(ctx, func(s Store) error {
		for _, q := range DefaultQuarters() {
			if _, err := s.GetQuarter(ctx, q.Number); err == nil {
				continue
			} else if !IsNotFound(err) {
				return err
			}
			if err := s.SaveQuarter(ctx, q); err != nil {
				return fmt.Errorf("seed quarter %d: %w", q.Number, err)
			}
		}
		for _, m := range DefaultMonths() {
			if _, err := s.GetMonth(ctx, m.Number); err == nil {
				continue
			} else if !IsNotFound(err) {
				return err
			}
			if err := s.SaveMonth(ctx, m); err != nil {
				return fmt.Errorf("seed month %d: %w", m.Number, err)
			}
		}
		return nil
	})
}

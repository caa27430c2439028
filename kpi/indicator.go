package kpi

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// CODE GENERATION
// =============================================================================

// CodePrefix joins the uppercased category codes, ordered by code, with "-".
func CodePrefix(categoryCodes []string) string {
	codes := append([]string(nil), categoryCodes...)
	sort.Strings(codes)
	for i, c := range codes {
		codes[i] = strings.ToUpper(c)
	}
	return strings.Join(codes, "-")
}

// NextTopLevelCode returns "{prefix}-{NN}" where NN is one more than the
// highest numeric suffix among existing codes with exactly this prefix.
// Codes whose remainder isn't a number (e.g. "ECO-AGR-07" for "ECO") are
// ignored.
func NextTopLevelCode(prefix string, existing []string) string {
	highest := 0
	for _, code := range existing {
		rest := strings.TrimPrefix(code, prefix+"-")
		if rest == code {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s-%02d", prefix, highest+1)
}

// NextChildCode returns "{parent}.{n}" where n is one more than the highest
// first segment among sibling codes below the parent.
func NextChildCode(parentCode string, siblings []string) string {
	highest := 0
	for _, code := range siblings {
		rest := strings.TrimPrefix(code, parentCode+".")
		if rest == code {
			continue
		}
		first := strings.SplitN(rest, ".", 2)[0]
		n, err := strconv.Atoi(first)
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s.%d", parentCode, highest+1)
}

// =============================================================================
// CREATE
// =============================================================================

// CreateIndicator validates references, fills defaults and generates a code
// when none is given. Repeated category ids are collapsed. Code generation and the insert share a transaction so
// two concurrent creates can't pick the same code.
//
// A top-level indicator without categories, or a child of an uncoded parent,
// is created without a code.
func (e *Engine) CreateIndicator(ctx context.Context, ind Indicator) (Indicator, error) {
	if ind.ID == "" {
		ind.ID = IndicatorID(uuid.NewString())
	}
	if ind.Characteristic == "" {
		ind.Characteristic = CharacteristicIncreasing
	}
	if ind.Frequency == "" {
		ind.Frequency = FrequencyAnnual
	}
	ind.CategoryIDs = uniqueCategories(ind.CategoryIDs)
	now := time.Now().UTC()
	ind.CreatedAt, ind.UpdatedAt = now, now

	err := e.withTx(ctx, func(s Store) error {
		if ind.ParentID != nil {
			if _, err := s.GetIndicator(ctx, *ind.ParentID); err != nil {
				return fmt.Errorf("parent: %w", err)
			}
		}
		categoryCodes := make([]string, 0, len(ind.CategoryIDs))
		for _, cid := range ind.CategoryIDs {
			c, err := s.GetCategory(ctx, cid)
			if err != nil {
				return err
			}
			categoryCodes = append(categoryCodes, c.Code)
		}

		if ind.Code == "" {
			code, err := generateCode(ctx, s, ind.ParentID, categoryCodes)
			if err != nil {
				return err
			}
			ind.Code = code
		}
		return s.SaveIndicator(ctx, ind)
	})
	if err != nil {
		return Indicator{}, err
	}

	e.log().Info("indicator created",
		zap.String("indicator_id", string(ind.ID)),
		zap.String("code", ind.Code))
	return ind, nil
}

// uniqueCategories drops repeated ids, keeping first occurrences in order.
func uniqueCategories(ids []CategoryID) []CategoryID {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[CategoryID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func generateCode(ctx context.Context, s Store, parentID *IndicatorID, categoryCodes []string) (string, error) {
	if parentID != nil {
		parent, err := s.GetIndicator(ctx, *parentID)
		if err != nil {
			return "", err
		}
		if parent.Code == "" {
			return "", nil
		}
		siblings, err := s.IndicatorCodes(ctx, parentID)
		if err != nil {
			return "", fmt.Errorf("load sibling codes: %w", err)
		}
		return NextChildCode(parent.Code, siblings), nil
	}

	if len(categoryCodes) == 0 {
		return "", nil
	}
	existing, err := s.IndicatorCodes(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("load top-level codes: %w", err)
	}
	return NextTopLevelCode(CodePrefix(categoryCodes), existing), nil
}

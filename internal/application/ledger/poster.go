package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	appshared "github.com/erp/reconciler/internal/application/shared"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/shared"
)

// Post folds movements into their SKUs' balances and appends them to the
// log, inside the caller's transaction. Callers must hold the SKU locks.
// Either every balance accepts its movements or nothing is written.
func Post(ctx context.Context, repos appshared.Repositories, movements []*ledger.Movement) (map[string]*ledger.Balance, error) {
	bySKU := make(map[string][]*ledger.Movement)
	for _, m := range movements {
		bySKU[m.SKU] = append(bySKU[m.SKU], m)
	}
	skus := make([]string, 0, len(bySKU))
	for sku := range bySKU {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	balances := make(map[string]*ledger.Balance, len(skus))
	for _, sku := range skus {
		b, err := loadBalance(ctx, repos.Balances(), sku)
		if err != nil {
			return nil, err
		}
		expected := b.Version
		for _, m := range bySKU[sku] {
			if err := b.Apply(m); err != nil {
				return nil, err
			}
		}
		if err := repos.Balances().Save(ctx, b, expected); err != nil {
			return nil, fmt.Errorf("save balance %s: %w", sku, err)
		}
		balances[sku] = b
	}

	if err := repos.Movements().Append(ctx, movements...); err != nil {
		return nil, fmt.Errorf("append movements: %w", err)
	}
	return balances, nil
}

// SKUs returns the distinct SKUs of movements, sorted.
func SKUs(movements []*ledger.Movement) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, m := range movements {
		if !seen[m.SKU] {
			seen[m.SKU] = true
			out = append(out, m.SKU)
		}
	}
	sort.Strings(out)
	return out
}

func loadBalance(ctx context.Context, repo ledger.BalanceRepository, sku string) (*ledger.Balance, error) {
	b, err := repo.Get(ctx, sku)
	if errors.Is(err, shared.ErrNotFound) {
		return ledger.NewBalance(sku), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balance %s: %w", sku, err)
	}
	return b, nil
}

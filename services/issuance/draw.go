package issuance

import (
	"context"
	"errors"

	"loyalty-checkin/services/changefeed"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// candidate with a nil prize is the no-win outcome.
type candidate struct {
	prize  *Prize
	weight int64
}

// pick selects by cumulative weight; r must be in [0, total weight).
func pick(cands []candidate, r int64) candidate {
	var acc int64
	for _, c := range cands {
		acc += c.weight
		if r < acc {
			return c
		}
	}
	return cands[len(cands)-1]
}

func (e *Engine) rouletteCandidates(ctx context.Context, tx *gorm.DB, exclude map[string]struct{}, loseWeight int64) ([]candidate, int64, error) {
	var prizes []Prize
	err := tx.WithContext(ctx).
		Where("type = ? AND is_active = ? AND weight > 0", PrizeTypeRoulette, true).
		Where("inventory_count IS NULL OR inventory_count > 0").
		Order("created_at ASC, id ASC").
		Find(&prizes).Error
	if err != nil {
		return nil, 0, err
	}

	cands := make([]candidate, 0, len(prizes)+1)
	var total int64
	for i := range prizes {
		if _, skip := exclude[prizes[i].ID]; skip {
			continue
		}
		cands = append(cands, candidate{prize: &prizes[i], weight: prizes[i].Weight})
		total += prizes[i].Weight
	}
	if loseWeight > 0 {
		cands = append(cands, candidate{weight: loseWeight})
		total += loseWeight
	}
	return cands, total, nil
}

// DrawAndIssueTx draws a roulette prize for userID and issues it inside tx.
// When the drawn prize lost its last unit in the meantime the draw is
// repeated without it, up to MaxDrawAttempts, before settling on no prize.
func (e *Engine) DrawAndIssueTx(ctx context.Context, tx *gorm.DB, ob *changefeed.Outbox, userID string) (DrawOutcome, error) {
	s, err := e.settings.Get(ctx)
	if err != nil {
		return DrawOutcome{}, err
	}

	exclude := make(map[string]struct{})
	for attempt := 1; attempt <= MaxDrawAttempts; attempt++ {
		cands, total, err := e.rouletteCandidates(ctx, tx, exclude, s.RouletteLoseWeight)
		if err != nil {
			return DrawOutcome{}, err
		}
		if total == 0 {
			drawOutcomes.WithLabelValues("empty").Inc()
			return DrawOutcome{Attempts: attempt}, nil
		}

		chosen := pick(cands, e.randN(total))
		if chosen.prize == nil {
			drawOutcomes.WithLabelValues("lose").Inc()
			return DrawOutcome{Attempts: attempt}, nil
		}

		coupon, err := e.IssueTx(ctx, tx, ob, IssueRequest{
			PrizeID: chosen.prize.ID,
			UserID:  userID,
			Source:  SourceRoulette,
		})
		if errors.Is(err, ErrOutOfStock) || errors.Is(err, ErrPrizeInactive) {
			zap.L().Info("drawn prize unavailable, redrawing",
				zap.String("prize_id", chosen.prize.ID),
				zap.Int("attempt", attempt),
			)
			exclude[chosen.prize.ID] = struct{}{}
			drawRetries.Inc()
			continue
		}
		if err != nil {
			return DrawOutcome{}, err
		}

		drawOutcomes.WithLabelValues("win").Inc()
		return DrawOutcome{Coupon: coupon, Prize: chosen.prize, Attempts: attempt}, nil
	}

	drawOutcomes.WithLabelValues("exhausted").Inc()
	return DrawOutcome{Attempts: MaxDrawAttempts}, nil
}

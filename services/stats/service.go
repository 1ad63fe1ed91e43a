package stats

import (
	"context"
	"errors"
	"time"

	"ecoquest/pkg/celengine"
	"ecoquest/pkg/config"
	"ecoquest/pkg/db/option"
	"ecoquest/pkg/errutil"
	"ecoquest/pkg/featureflags"
	applog "ecoquest/pkg/logger"
	"ecoquest/pkg/repository"
	"ecoquest/services/catalog"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sources of a delta, also the prefix of its reference id.
const (
	SourceQuizAttempt       = "quiz_attempt"
	SourceUserActivity      = "user_activity"
	SourceChallengeProgress = "challenge_progress"
)

const (
	BadgeSourceChallenge = "challenge"
	BadgeSourceAuto      = "auto"
)

var errDuplicateDelta = errors.New("delta already applied")

// BadgeCatalog is the read side of the badge catalog.
type BadgeCatalog interface {
	GetBadgeByName(ctx context.Context, name string) (*catalog.Badge, error)
	ListBadges(ctx context.Context) ([]*catalog.Badge, error)
}

// Delta is one change to a profile. ReferenceID identifies the ledger fact
// that produced it and makes ApplyDelta idempotent.
type Delta struct {
	UserID         string  `json:"user_id"`
	Points         int64   `json:"points"`
	CarbonSaved    float64 `json:"carbon_saved"`
	QuestCompleted bool    `json:"quest_completed"`
	ReferenceID    string  `json:"reference_id"`
	Source         string  `json:"source"`
}

func ReferenceID(source, id string) string {
	return source + ":" + id
}

type ApplyResult struct {
	Profile   *UserProfile
	Entry     *PointEntry
	Duplicate bool
}

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	badges  BadgeCatalog
	flags   featureflags.FeatureFlag
	levelOf LevelFunc
	loc     *time.Location
	now     func() time.Time

	autoAward bool

	profile   repository.Repository[UserProfile]
	entry     repository.Repository[PointEntry]
	userBadge repository.Repository[UserBadge]
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Catalog *catalog.Service
	Flags   featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) (*Service, error) {
	loc := time.UTC
	if tz := p.Config.Stats.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
		loc = l
	}

	return &Service{
		db:        p.DB,
		node:      p.Node,
		badges:    p.Catalog,
		flags:     p.Flags,
		levelOf:   StepLevels(p.Config.Stats.LevelStep),
		loc:       loc,
		now:       time.Now,
		autoAward: p.Config.Stats.AutoAwardBadges,

		profile:   repository.ProvideStore[UserProfile](p.DB),
		entry:     repository.ProvideStore[PointEntry](p.DB),
		userBadge: repository.ProvideStore[UserBadge](p.DB),
	}, nil
}

func logger(ctx context.Context, userID string) *zap.Logger {
	return applog.FromContext(ctx, zap.String("user_id", userID))
}

func (s *Service) newProfile(userID string) *UserProfile {
	return &UserProfile{
		ID:           s.node.Generate().String(),
		UserID:       userID,
		Level:        s.levelOf(0),
		BadgesEarned: datatypes.JSONSlice[string]{},
	}
}

// lockProfile creates the profile on first use and returns it locked for the
// rest of tx.
func (s *Service) lockProfile(ctx context.Context, tx *gorm.DB, userID string) (*UserProfile, error) {
	if err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(s.newProfile(userID)).Error; err != nil {
		return nil, err
	}

	profile, err := s.profile.WithTrx(tx).FindOne(ctx, &UserProfile{UserID: userID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return profile, nil
}

// ApplyDelta is the only code path that changes points, carbon, quests,
// level and streak. It runs in one transaction with the profile row locked
// and appends a chained PointEntry. Replaying a delta with a known
// ReferenceID is a no-op reported through Duplicate.
func (s *Service) ApplyDelta(ctx context.Context, d Delta) (*ApplyResult, error) {
	log := logger(ctx, d.UserID).With(zap.String("reference_id", d.ReferenceID))

	if d.UserID == "" || d.ReferenceID == "" {
		return nil, errutil.ValidationFailed("user_id and reference_id are required", nil)
	}
	if d.Points < 0 || d.CarbonSaved < 0 {
		return nil, errutil.ValidationFailed("delta must not be negative", nil)
	}

	result := &ApplyResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profileTx := s.profile.WithTrx(tx)
		entryTx := s.entry.WithTrx(tx)

		profile, err := s.lockProfile(ctx, tx, d.UserID)
		if err != nil {
			return err
		}

		dup, err := entryTx.FindOne(ctx, &PointEntry{UserID: d.UserID, ReferenceID: d.ReferenceID})
		if err != nil {
			return err
		}
		if dup != nil {
			result.Profile, result.Entry, result.Duplicate = profile, dup, true
			return nil
		}

		last, err := entryTx.FindOne(ctx, &PointEntry{UserID: d.UserID}, option.WithSortBy(option.QuerySortBy{
			SortBy:  "seq",
			OrderBy: "desc",
			Allow:   map[string]bool{"seq": true},
		}))
		if err != nil {
			return err
		}

		now := s.now().UTC()
		entry := &PointEntry{
			ID:             s.node.Generate().String(),
			UserID:         d.UserID,
			Seq:            1,
			ReferenceID:    d.ReferenceID,
			Source:         d.Source,
			Points:         d.Points,
			CarbonSaved:    d.CarbonSaved,
			QuestCompleted: d.QuestCompleted,
			PreviousHash:   GenesisHash,
			// stored precision is microseconds on postgres
			CreatedAt: now.Truncate(time.Microsecond),
		}
		if last != nil {
			entry.Seq = last.Seq + 1
			entry.PreviousHash = last.Hash
		}
		entry.Hash = entry.GenerateHash()

		if err := entryTx.Create(ctx, entry); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errDuplicateDelta
			}
			return err
		}

		lastActivity := now
		if profile.LastActivityAt != nil && profile.LastActivityAt.After(now) {
			lastActivity = *profile.LastActivityAt
		}

		updates := map[string]any{
			"eco_points":             gorm.Expr("eco_points + ?", d.Points),
			"carbon_footprint_saved": gorm.Expr("carbon_footprint_saved + ?", d.CarbonSaved),
			"level":                  max(profile.Level, s.levelOf(profile.EcoPoints+d.Points)),
			"streak_days":            NextStreak(profile.StreakDays, profile.LastActivityAt, now, s.loc),
			"last_activity_at":       lastActivity,
			"updated_at":             now,
		}
		if d.QuestCompleted {
			updates["total_quests_completed"] = gorm.Expr("total_quests_completed + 1")
		}
		if err := profileTx.Update(ctx, profile.ID, &updates); err != nil {
			return err
		}

		updated, err := profileTx.FindOne(ctx, &UserProfile{ID: profile.ID})
		if err != nil {
			return err
		}
		result.Profile, result.Entry = updated, entry
		return nil
	})
	if errors.Is(err, errDuplicateDelta) {
		profile, findErr := s.profile.FindOne(ctx, &UserProfile{UserID: d.UserID})
		if findErr != nil {
			return nil, errutil.Internal("failed to load profile", findErr)
		}
		return &ApplyResult{Profile: profile, Duplicate: true}, nil
	}
	if err != nil {
		log.Error("failed to apply delta", zap.Error(err))
		return nil, errutil.Internal("failed to update user stats", err)
	}

	if result.Duplicate {
		log.Info("delta already applied")
	} else {
		log.Info("delta applied",
			zap.Int64("points", d.Points),
			zap.Float64("carbon_saved", d.CarbonSaved),
			zap.Int64("eco_points", result.Profile.EcoPoints),
			zap.Int64("level", result.Profile.Level),
			zap.Int64("streak_days", result.Profile.StreakDays),
		)
	}
	return result, nil
}

// AwardBadge grants the badge named badgeName. It reports false when the
// user already holds it.
func (s *Service) AwardBadge(ctx context.Context, userID, badgeName string) (bool, error) {
	badge, err := s.badges.GetBadgeByName(ctx, badgeName)
	if err != nil {
		return false, err
	}
	return s.awardBadge(ctx, userID, badge, BadgeSourceChallenge)
}

func (s *Service) awardBadge(ctx context.Context, userID string, badge *catalog.Badge, source string) (bool, error) {
	awarded := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := s.lockProfile(ctx, tx, userID)
		if err != nil {
			return err
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "badge_id"}},
			DoNothing: true,
		}).Create(&UserBadge{
			ID:       s.node.Generate().String(),
			UserID:   userID,
			BadgeID:  badge.ID,
			Source:   source,
			EarnedAt: s.now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		awarded = res.RowsAffected > 0

		if profile.HasBadge(badge.ID) {
			return nil
		}
		badges := append(datatypes.JSONSlice[string]{}, profile.BadgesEarned...)
		badges = append(badges, badge.ID)
		return s.profile.WithTrx(tx).Update(ctx, profile.ID, map[string]any{
			"badges_earned": badges,
			"updated_at":    s.now().UTC(),
		})
	})
	if err != nil {
		logger(ctx, userID).Error("failed to award badge", zap.String("badge_id", badge.ID), zap.Error(err))
		return false, errutil.Internal("failed to award badge", err)
	}

	if awarded {
		logger(ctx, userID).Info("badge awarded", zap.String("badge_id", badge.ID), zap.String("source", source))
	}
	return awarded, nil
}

func (s *Service) autoAwardEnabled(ctx context.Context, userID string) bool {
	if !s.autoAward {
		return false
	}
	if s.flags == nil {
		return true
	}
	return s.flags.IsEnabled(ctx, userID, featureflags.AutoAwardBadges, true)
}

// EvaluateBadges awards every active badge whose requirement the profile
// meets. A badge qualifies when it has a points threshold or an expression
// and every condition it declares holds.
func (s *Service) EvaluateBadges(ctx context.Context, userID string) ([]string, error) {
	if !s.autoAwardEnabled(ctx, userID) {
		return nil, nil
	}
	log := logger(ctx, userID)

	profile, err := s.profile.FindOne(ctx, &UserProfile{UserID: userID})
	if err != nil {
		return nil, errutil.Internal("failed to load profile", err)
	}
	if profile == nil {
		return nil, nil
	}

	badges, err := s.badges.ListBadges(ctx)
	if err != nil {
		return nil, err
	}

	attrs := profile.Attributes()
	var awarded []string
	for _, badge := range badges {
		if profile.HasBadge(badge.ID) {
			continue
		}
		expr := badge.Requirements.Data().Expression
		if badge.PointsRequired == nil && expr == "" {
			continue
		}
		if badge.PointsRequired != nil && profile.EcoPoints < *badge.PointsRequired {
			continue
		}
		if expr != "" {
			ok, err := celengine.Evaluate(expr, attrs)
			if err != nil {
				log.Warn("invalid badge requirement", zap.String("badge_id", badge.ID), zap.String("expression", expr), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
		}

		ok, err := s.awardBadge(ctx, userID, badge, BadgeSourceAuto)
		if err != nil {
			return awarded, err
		}
		if ok {
			awarded = append(awarded, badge.Name)
		}
	}
	return awarded, nil
}

// GetProfile returns the stored profile, or a fresh level 1 profile that is
// not persisted yet.
func (s *Service) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	profile, err := s.profile.FindOne(ctx, &UserProfile{UserID: userID})
	if err != nil {
		logger(ctx, userID).Error("failed to load profile", zap.Error(err))
		return nil, errutil.Internal("failed to load profile", err)
	}
	if profile == nil {
		p := s.newProfile(userID)
		p.ID = ""
		return p, nil
	}
	return profile, nil
}

// Leaderboard ranks profiles by eco points. Ties go to whoever reached the
// total first.
func (s *Service) Leaderboard(ctx context.Context, limit, offset int) ([]LeaderboardEntry, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.profile.Find(ctx, nil, option.WithLimit(limit), func(db *gorm.DB) *gorm.DB {
		return db.Order("eco_points DESC").Order("updated_at ASC").Order("user_id ASC").Offset(offset)
	})
	if err != nil {
		zap.L().Error("failed to query leaderboard", zap.Error(err))
		return nil, errutil.Internal("failed to load leaderboard", err)
	}

	out := make([]LeaderboardEntry, 0, len(rows))
	for i, p := range rows {
		out = append(out, LeaderboardEntry{
			Rank:                 offset + i + 1,
			UserID:               p.UserID,
			EcoPoints:            p.EcoPoints,
			Level:                p.Level,
			StreakDays:           p.StreakDays,
			CarbonFootprintSaved: p.CarbonFootprintSaved,
			BadgeCount:           len(p.BadgesEarned),
		})
	}
	return out, nil
}

// VerifyChain recomputes every hash of the user's point ledger and checks
// that the ledger total matches the profile.
func (s *Service) VerifyChain(ctx context.Context, userID string) (*ChainReport, error) {
	entries, err := s.entry.Find(ctx, &PointEntry{UserID: userID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "seq",
		OrderBy: "asc",
		Allow:   map[string]bool{"seq": true},
	}))
	if err != nil {
		logger(ctx, userID).Error("failed to query point entries", zap.Error(err))
		return nil, errutil.Internal("failed to verify ledger", err)
	}

	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{Valid: true, Entries: len(entries), ProfilePoints: profile.EcoPoints}
	lastHash := GenesisHash
	for i, entry := range entries {
		report.LedgerPoints += entry.Points
		if !report.Valid {
			continue
		}
		if entry.Seq != int64(i+1) || entry.PreviousHash != lastHash || entry.Hash != entry.GenerateHash() {
			report.Valid = false
			report.BrokenAt = entry.ID
			continue
		}
		lastHash = entry.Hash
	}
	if report.LedgerPoints != report.ProfilePoints {
		report.Valid = false
	}
	return report, nil
}

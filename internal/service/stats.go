package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/repository"
)

// StatsService 汇总在线状态、排队情况和当日计数，供后台面板与聊天挂件使用
type StatsService struct {
	sessions repository.SessionRepository
	staff    repository.StaffRepository
	presence repository.PresenceRepository
	state    repository.StateRepository
	opts     ChatOptions
	now      func() time.Time
}

// NewStatsService 创建 StatsService 实例。
func NewStatsService(
	sessions repository.SessionRepository,
	staff repository.StaffRepository,
	presence repository.PresenceRepository,
	state repository.StateRepository,
	opts ChatOptions,
) *StatsService {
	if sessions == nil || staff == nil || presence == nil || state == nil {
		panic("All repositories must be non-nil for StatsService")
	}
	return &StatsService{
		sessions: sessions,
		staff:    staff,
		presence: presence,
		state:    state,
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Overview 返回统计面板数据。LocalConnections 由调用方 (Hub) 填充。
func (s *StatsService) Overview(ctx context.Context) (*domain.ChatStats, error) {
	now := s.now()
	since := now.Add(-s.opts.PresenceTTL)
	logCtx := logrus.WithField("operation", "Overview")

	stats := &domain.ChatStats{GeneratedAt: now}
	var err error
	if stats.OnlineVisitors, err = s.presence.CountOnline(ctx, domain.RoleVisitor, since); err != nil {
		logCtx.WithError(err).Error("Failed to count online visitors")
		return nil, ErrInternalServer
	}
	if stats.OnlineStaff, err = s.presence.CountOnline(ctx, domain.RoleStaff, since); err != nil {
		logCtx.WithError(err).Error("Failed to count online staff")
		return nil, ErrInternalServer
	}
	if stats.WaitingSessions, err = s.sessions.CountByStatus(ctx, domain.SessionWaiting); err != nil {
		logCtx.WithError(err).Error("Failed to count waiting sessions")
		return nil, ErrInternalServer
	}
	if stats.ActiveSessions, err = s.sessions.CountByStatus(ctx, domain.SessionActive); err != nil {
		logCtx.WithError(err).Error("Failed to count active sessions")
		return nil, ErrInternalServer
	}

	// 计数器只是参考值，读取失败不影响其它数据
	counters, err := s.state.GetCounters(ctx, domain.DayKey(now))
	if err != nil {
		logCtx.WithError(err).Warn("Failed to read daily counters")
	} else {
		stats.SessionsToday = counters[domain.CounterSessions]
		stats.MessagesToday = counters[domain.CounterMessages]
	}
	return stats, nil
}

// OnlineStaff 返回在线客服及其负载，可用于选择转接目标
func (s *StatsService) OnlineStaff(ctx context.Context) ([]domain.StaffPresence, error) {
	ids, err := s.presence.ListOnline(ctx, domain.RoleStaff, s.now().Add(-s.opts.PresenceTTL))
	if err != nil {
		logrus.WithError(err).Error("Failed to list online staff")
		return nil, ErrInternalServer
	}
	result := make([]domain.StaffPresence, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	staffList, err := s.staff.FindByIDs(ctx, ids)
	if err != nil {
		logrus.WithError(err).Error("Failed to load online staff")
		return nil, ErrInternalServer
	}
	loads, err := s.sessions.CountActiveByStaff(ctx, ids)
	if err != nil {
		logrus.WithError(err).Error("Failed to count staff load")
		return nil, ErrInternalServer
	}
	for i := range staffList {
		st := &staffList[i]
		if !st.IsActive {
			continue
		}
		result = append(result, domain.StaffPresence{
			StaffProfile:   st.Profile(),
			ActiveSessions: loads[st.ID],
			Capacity:       st.Capacity(s.opts.MaxSessionsPerStaff),
		})
	}
	return result, nil
}

// Availability 返回是否有客服在线。该接口公开给访客，只暴露数量。
func (s *StatsService) Availability(ctx context.Context) (domain.Availability, error) {
	n, err := s.presence.CountOnline(ctx, domain.RoleStaff, s.now().Add(-s.opts.PresenceTTL))
	if err != nil {
		logrus.WithError(err).Error("Failed to count online staff")
		return domain.Availability{}, ErrInternalServer
	}
	return domain.Availability{Online: n > 0, OnlineStaff: n}, nil
}

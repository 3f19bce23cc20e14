package gormpersistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/repository"
)

func newMockRepo(t *testing.T) (*GormSessionRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return NewGormSessionRepository(db), mock
}

func expectStaffLock(mock sqlmock.Sqlmock, staffID string, found bool) {
	rows := sqlmock.NewRows([]string{"id"})
	if found {
		rows.AddRow(staffID)
	}
	mock.ExpectQuery("(?s)SELECT .*FROM `chat_staff`.*FOR UPDATE").WillReturnRows(rows)
}

func expectActiveCount(mock sqlmock.Sqlmock, n int) {
	mock.ExpectQuery("(?s)SELECT count\\(\\*\\) FROM `chat_sessions`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(n))
}

func TestGormSessionRepository_Assign(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("Locks staff row before updating", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		expectStaffLock(mock, "s1", true)
		expectActiveCount(mock, 1)
		mock.ExpectExec("(?s)UPDATE `chat_sessions` SET .*WHERE .*status").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Assign(ctx, "sess-1", "s1", 2, now)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Staff at capacity", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		expectStaffLock(mock, "s1", true)
		expectActiveCount(mock, 2)
		mock.ExpectRollback()

		err := repo.Assign(ctx, "sess-1", "s1", 2, now)

		assert.ErrorIs(t, err, repository.ErrCapacityExceeded)
		assert.NoError(t, mock.ExpectationsWereMet(), "满员时不执行更新")
	})

	t.Run("Unknown staff", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		expectStaffLock(mock, "ghost", false)
		mock.ExpectRollback()

		err := repo.Assign(ctx, "sess-1", "ghost", 2, now)

		assert.ErrorIs(t, err, repository.ErrStaffNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Session no longer waiting", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		expectStaffLock(mock, "s1", true)
		expectActiveCount(mock, 0)
		mock.ExpectExec("(?s)UPDATE `chat_sessions` SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.Assign(ctx, "sess-1", "s1", 2, now)

		assert.ErrorIs(t, err, repository.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormSessionRepository_Reassign_ChecksTargetCapacity(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	expectStaffLock(mock, "s2", true)
	expectActiveCount(mock, 3)
	mock.ExpectRollback()

	err := repo.Reassign(context.Background(), "sess-1", "s1", "s2", 3, time.Now())

	assert.ErrorIs(t, err, repository.ErrCapacityExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormSessionRepository_Create(t *testing.T) {
	ctx := context.Background()
	newSession := func() *domain.ChatSession {
		now := time.Now()
		return &domain.ChatSession{
			ID:           "sess-1",
			VisitorID:    "3f0c3d4e-6a43-4d1e-9a57-2d8f0e7c1b20",
			Status:       domain.SessionWaiting,
			CreatedAt:    now,
			LastActivity: now,
		}
	}

	t.Run("Open session claims visitor slot", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("(?s)INSERT INTO `chat_sessions`.*`open_visitor_id`").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		session := newSession()

		err := repo.Create(ctx, session)

		require.NoError(t, err)
		require.NotNil(t, session.OpenVisitorID)
		assert.Equal(t, session.VisitorID, *session.OpenVisitorID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Second open session is a duplicate", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO `chat_sessions`").
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'idx_chat_sessions_open_visitor'"})
		mock.ExpectRollback()

		err := repo.Create(ctx, newSession())

		assert.ErrorIs(t, err, repository.ErrDuplicateEntry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormSessionRepository_Close_ReleasesVisitorSlot(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("(?s)UPDATE `chat_sessions` SET .*`open_visitor_id`=").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Close(context.Background(), "sess-1", domain.RoleVisitor, time.Now())

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

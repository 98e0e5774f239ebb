package lifecycle

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"school-service/internal/credential"
	"school-service/internal/model"
	"school-service/internal/notify"
	"school-service/pkg/database"
)

// captureDispatcher records dispatched messages for assertions.
type captureDispatcher struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (d *captureDispatcher) Dispatch(_ context.Context, msg notify.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
}

func (d *captureDispatcher) sent() []notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]notify.Message, len(d.messages))
	copy(out, d.messages)
	return out
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newSchoolLifecycle(t *testing.T) (*SchoolLifecycle, *gorm.DB, *captureDispatcher) {
	t.Helper()
	db := testDB(t)
	dispatcher := &captureDispatcher{}
	lc := NewSchoolLifecycle(db, credential.NewProvisioner(), dispatcher, zap.NewNop())
	return lc, db, dispatcher
}

func newApplicationLifecycle(t *testing.T) (*ApplicationLifecycle, *gorm.DB, *captureDispatcher) {
	t.Helper()
	db := testDB(t)
	dispatcher := &captureDispatcher{}
	lc := NewApplicationLifecycle(db, credential.NewProvisioner(), dispatcher, nil, zap.NewNop())
	return lc, db, dispatcher
}

var schoolSeq atomic.Uint32

func createSchool(t *testing.T, db *gorm.DB, status model.SchoolStatus) *model.School {
	t.Helper()
	n := strconv.Itoa(int(schoolSeq.Add(1)))
	school := &model.School{
		Name:   "Escola Monteiro Lobato " + n,
		Slug:   "escola-monteiro-lobato-" + n,
		Status: status,
		Email:  "contato" + n + "@monteirolobato.example",
	}
	require.NoError(t, db.Create(school).Error)
	return school
}

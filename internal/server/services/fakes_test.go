package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/dbx"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/dmitrijs2005/couplesync/internal/server/config"
	"github.com/dmitrijs2005/couplesync/internal/server/models"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/couples"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/pairingcodes"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/records"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/users"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// --- helpers ---

var errBoom = errors.New("boom")

// newTxDB returns a database that only provides transactions; the fake
// repositories below keep their state in memory.
func newTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                    "k-for-tests",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 2 * time.Hour,
		PairingCodeTTL:               24 * time.Hour,
		PairingCodeSecret:            "pepper",
	}
}

// setNow pins the service clock.
func setNow(t *testing.T, at time.Time) *time.Time {
	t.Helper()
	orig := now
	cur := at
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = orig })
	return &cur
}

type coupleRow struct {
	couple  dm.Couple
	version int64
	active  map[string]bool
}

type recordKey struct {
	t  dm.EntityType
	id string
}

// fakeDB is an in-memory stand-in for the Postgres schema. A single mutex
// gives every repository call the atomicity of one SQL statement.
type fakeDB struct {
	mu      sync.Mutex
	users   map[string]*models.User
	tokens  map[string]*models.RefreshToken
	couples map[string]*coupleRow
	codes   map[string]*models.PairingCode
	records map[recordKey]*models.StoredRecord

	findUserErr  error
	createTokErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:   map[string]*models.User{},
		tokens:  map[string]*models.RefreshToken{},
		couples: map[string]*coupleRow{},
		codes:   map[string]*models.PairingCode{},
		records: map[recordKey]*models.StoredRecord{},
	}
}

func (f *fakeDB) addUser(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.users[id] = &models.User{ID: id, UserName: name, DisplayName: name, Salt: []byte("salt-" + name), Verifier: []byte("verifier-" + name)}
	return id
}

// addCouple pairs a and b directly and returns the couple id.
func (f *fakeDB) addCouple(a, b string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.couples[id] = &coupleRow{
		couple: dm.Couple{ID: id, Members: [2]string{a, b}, PairedAt: time.Now(), Status: dm.CoupleActive},
		active: map[string]bool{a: true, b: true},
	}
	return id
}

func (f *fakeDB) activeCoupleOf(userID string) *coupleRow {
	for _, row := range f.couples {
		if row.active[userID] && row.couple.Status == dm.CoupleActive {
			return row
		}
	}
	return nil
}

// fakeRM implements repomanager.RepositoryManager over a fakeDB.
type fakeRM struct{ db *fakeDB }

func (m fakeRM) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (m fakeRM) Users(dbx.DBTX) users.Repository                 { return fakeUsers{m.db} }
func (m fakeRM) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return fakeTokens{m.db} }
func (m fakeRM) Couples(dbx.DBTX) couples.Repository             { return fakeCouples{m.db} }
func (m fakeRM) PairingCodes(dbx.DBTX) pairingcodes.Repository   { return fakeCodes{m.db} }
func (m fakeRM) Records(dbx.DBTX) records.Repository             { return fakeRecords{m.db} }

type fakeUsers struct{ f *fakeDB }

func (r fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, existing := range r.f.users {
		if existing.UserName == u.UserName {
			return nil, common.ErrAlreadyExists
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now()
	cp := *u
	r.f.users[u.ID] = &cp
	return u, nil
}

func (r fakeUsers) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.findUserErr != nil {
		return nil, r.f.findUserErr
	}
	for _, u := range r.f.users {
		if u.UserName == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	u, ok := r.f.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type fakeTokens struct{ f *fakeDB }

func (r fakeTokens) Create(_ context.Context, userID, token string, expiresAt time.Time) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.createTokErr != nil {
		return r.f.createTokErr
	}
	r.f.tokens[token] = &models.RefreshToken{ID: uuid.NewString(), UserID: userID, Token: token, Expires: expiresAt}
	return nil
}

func (r fakeTokens) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	t, ok := r.f.tokens[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r fakeTokens) Consume(_ context.Context, token string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.tokens[token]; !ok {
		return common.ErrNotFound
	}
	delete(r.f.tokens, token)
	return nil
}

type fakeCouples struct{ f *fakeDB }

func (r fakeCouples) Create(_ context.Context, c *dm.Couple) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, uid := range c.Members {
		if r.f.activeCoupleOf(uid) != nil {
			return common.ErrAlreadyPaired
		}
	}
	r.f.couples[c.ID] = &coupleRow{couple: *c, active: map[string]bool{c.Members[0]: true, c.Members[1]: true}}
	return nil
}

func (r fakeCouples) Get(_ context.Context, id string) (*dm.Couple, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	row, ok := r.f.couples[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := row.couple
	return &c, nil
}

func (r fakeCouples) ActiveFor(_ context.Context, userID string) (*dm.Couple, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	row := r.f.activeCoupleOf(userID)
	if row == nil {
		return nil, common.ErrNotFound
	}
	c := row.couple
	return &c, nil
}

func (r fakeCouples) IsActiveMember(_ context.Context, coupleID, userID string) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	row, ok := r.f.couples[coupleID]
	return ok && row.active[userID] && row.couple.Status == dm.CoupleActive, nil
}

func (r fakeCouples) LockForWrite(_ context.Context, coupleID string) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	row, ok := r.f.couples[coupleID]
	if !ok || row.couple.Status != dm.CoupleActive {
		return 0, common.ErrNotAuthorized
	}
	return row.version, nil
}

func (r fakeCouples) NextVersion(_ context.Context, coupleID string) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	row, ok := r.f.couples[coupleID]
	if !ok {
		return 0, common.ErrNotFound
	}
	row.version++
	return row.version, nil
}

func (r fakeCouples) Dissolve(_ context.Context, coupleID string, _ time.Time) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	row, ok := r.f.couples[coupleID]
	if !ok || row.couple.Status != dm.CoupleActive {
		return 0, common.ErrNotFound
	}
	row.couple.Status = dm.CoupleDissolved
	row.active = map[string]bool{}
	row.version++
	return row.version, nil
}

type fakeCodes struct{ f *fakeDB }

func (r fakeCodes) Insert(_ context.Context, pc *models.PairingCode) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.codes[pc.CodeHash]; ok {
		return common.ErrAlreadyExists
	}
	pc.Status = dm.PairingOpen
	cp := *pc
	r.f.codes[pc.CodeHash] = &cp
	return nil
}

func (r fakeCodes) ExpireOpenByIssuer(_ context.Context, issuerID string) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var n int64
	for _, pc := range r.f.codes {
		if pc.IssuerID == issuerID && pc.Status == dm.PairingOpen {
			pc.Status = dm.PairingExpired
			n++
		}
	}
	return n, nil
}

func (r fakeCodes) Redeem(_ context.Context, hash, redeemerID string, at time.Time) (*models.PairingCode, bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	pc, ok := r.f.codes[hash]
	if !ok || pc.Status != dm.PairingOpen || !pc.ExpiresAt.After(at) || pc.IssuerID == redeemerID {
		return nil, false, nil
	}
	pc.Status = dm.PairingRedeemed
	pc.RedeemedBy = redeemerID
	pc.RedeemedAt = at
	cp := *pc
	return &cp, true, nil
}

func (r fakeCodes) Get(_ context.Context, hash string) (*models.PairingCode, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	pc, ok := r.f.codes[hash]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *pc
	return &cp, nil
}

func (r fakeCodes) MarkExpired(_ context.Context, hash string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if pc, ok := r.f.codes[hash]; ok && pc.Status == dm.PairingOpen {
		pc.Status = dm.PairingExpired
	}
	return nil
}

type fakeRecords struct{ f *fakeDB }

func (r fakeRecords) Get(_ context.Context, t dm.EntityType, coupleID, id string) (*models.StoredRecord, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	rec, ok := r.f.records[recordKey{t, id}]
	if !ok || rec.CoupleID != coupleID {
		return nil, common.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r fakeRecords) Insert(_ context.Context, rec *models.StoredRecord) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	k := recordKey{rec.Type, rec.ID}
	if _, ok := r.f.records[k]; ok {
		return common.ErrVersionConflict
	}
	cp := *rec
	r.f.records[k] = &cp
	return nil
}

func (r fakeRecords) Update(_ context.Context, rec *models.StoredRecord, expected int64) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cur, ok := r.f.records[recordKey{rec.Type, rec.ID}]
	if !ok || cur.Deleted || cur.CoupleID != rec.CoupleID || (expected >= 0 && cur.Version != expected) {
		return common.ErrVersionConflict
	}
	*cur = *rec
	return nil
}

func (r fakeRecords) ListSince(_ context.Context, coupleID string, cursor int64, limit int) ([]*models.StoredRecord, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.StoredRecord
	for _, rec := range r.f.records {
		if rec.CoupleID == coupleID && rec.Version > cursor {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

package linktoken

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bankline/internal/domain/account"
	"bankline/internal/domain/identity"
	"bankline/internal/domain/item"
	"bankline/internal/shared/retry"
	"bankline/internal/shared/upstream"
)

// txParticipant can roll its state back when a fake transaction fails.
type txParticipant interface {
	snapshot() func()
}

// fakeTx serializes transactions and restores participants on error.
type fakeTx struct {
	mu           sync.Mutex
	participants []txParticipant
}

type inTxKey struct{}

func (tx *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()

	restores := make([]func(), 0, len(tx.participants))
	for _, p := range tx.participants {
		restores = append(restores, p.snapshot())
	}
	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

type memRepo struct {
	mu          sync.Mutex
	tokens      map[string]*LinkToken
	staleCutoff time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{tokens: make(map[string]*LinkToken)}
}

func (r *memRepo) snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]LinkToken, len(r.tokens))
	for k, v := range r.tokens {
		saved[k] = *v
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.tokens = make(map[string]*LinkToken, len(saved))
		for k, v := range saved {
			v := v
			r.tokens[k] = &v
		}
	}
}

func sameItem(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *memRepo) DeleteUnconsumed(ctx context.Context, userID int64, itemID *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, t := range r.tokens {
		if t.UserID == userID && sameItem(t.ItemID, itemID) && t.ConsumedAt == nil {
			delete(r.tokens, k)
		}
	}
	return nil
}

func (r *memRepo) Insert(ctx context.Context, t *LinkToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tokens[t.Value] = &cp
	return nil
}

func (r *memRepo) Get(ctx context.Context, value string) (*LinkToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[value]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) GetForUpdate(ctx context.Context, value string) (*LinkToken, error) {
	return r.Get(ctx, value)
}

func (r *memRepo) MarkConsumed(ctx context.Context, value string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[value]
	if !ok || t.ConsumedAt != nil {
		return false, nil
	}
	t.ConsumedAt = &at
	return true, nil
}

func (r *memRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staleCutoff = cutoff
	var n int64
	for k, t := range r.tokens {
		if t.ExpiresAt.Before(cutoff) || (t.ConsumedAt != nil && t.ConsumedAt.Before(cutoff)) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

type fakeAggregator struct {
	CreateLinkTokenFunc     func(ctx context.Context, req TokenRequest) (*IssuedToken, error)
	ExchangePublicTokenFunc func(ctx context.Context, publicToken string) (*Exchange, error)
	GetAccountsFunc         func(ctx context.Context, accessToken string) ([]RemoteAccount, error)

	createCalls   atomic.Int32
	exchangeCalls atomic.Int32
	removed       atomic.Int32
	seq           atomic.Int32
}

func (f *fakeAggregator) CreateLinkToken(ctx context.Context, req TokenRequest) (*IssuedToken, error) {
	f.createCalls.Add(1)
	if f.CreateLinkTokenFunc != nil {
		return f.CreateLinkTokenFunc(ctx, req)
	}
	n := f.seq.Add(1)
	return &IssuedToken{Value: "link-sandbox-" + string(rune('a'+n))}, nil
}

func (f *fakeAggregator) ExchangePublicToken(ctx context.Context, publicToken string) (*Exchange, error) {
	f.exchangeCalls.Add(1)
	if f.ExchangePublicTokenFunc != nil {
		return f.ExchangePublicTokenFunc(ctx, publicToken)
	}
	return &Exchange{AccessToken: "access-sandbox-1", ProviderItemID: "prov-item-1"}, nil
}

func (f *fakeAggregator) GetAccounts(ctx context.Context, accessToken string) ([]RemoteAccount, error) {
	if f.GetAccountsFunc != nil {
		return f.GetAccountsFunc(ctx, accessToken)
	}
	avail := decimal.RequireFromString("500.00")
	return []RemoteAccount{
		{ID: "a1", Name: "Plaid Checking", Mask: "0000", Type: "depository", Subtype: "checking", Currency: "USD", Available: &avail},
		{ID: "a2", Name: "Plaid Credit Card", Mask: "3333", Type: "credit", Subtype: "credit card", Currency: "USD"},
	}, nil
}

func (f *fakeAggregator) RemoveItem(ctx context.Context, accessToken string) error {
	f.removed.Add(1)
	return nil
}

type fakeItems struct {
	mu        sync.Mutex
	items     map[int64]*item.Item
	nextID    int64
	createErr error
	published []*item.TransitionResult
}

func newFakeItems() *fakeItems {
	return &fakeItems{items: make(map[int64]*item.Item), nextID: 100}
}

func (f *fakeItems) snapshot() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := make(map[int64]item.Item, len(f.items))
	for k, v := range f.items {
		saved[k] = *v
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.items = make(map[int64]*item.Item, len(saved))
		for k, v := range saved {
			v := v
			f.items[k] = &v
		}
	}
}

func (f *fakeItems) put(it item.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[it.ID] = &it
}

func (f *fakeItems) GetOwnedItem(ctx context.Context, id, userID int64) (*item.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, item.ErrItemNotFound
	}
	if it.UserID != userID {
		return nil, item.ErrNotOwned
	}
	cp := *it
	return &cp, nil
}

func (f *fakeItems) CreateItem(ctx context.Context, params item.CreateParams) (*item.Item, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	it := &item.Item{
		ID:             f.nextID,
		UserID:         params.UserID,
		InstitutionID:  params.InstitutionID,
		ProviderItemID: params.ProviderItemID,
		AccessToken:    params.AccessToken,
		State:          item.StateGood,
	}
	f.nextID++
	f.items[it.ID] = it
	cp := *it
	return &cp, nil
}

func (f *fakeItems) ApplyTransition(ctx context.Context, itemID int64, event item.Event) (*item.TransitionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[itemID]
	if !ok {
		return nil, item.ErrItemNotFound
	}
	prev := it.State
	next, applied := item.Next(prev, event)
	it.State = next
	cp := *it
	return &item.TransitionResult{Item: &cp, Previous: prev, Event: event, Applied: applied}, nil
}

func (f *fakeItems) PublishTransition(ctx context.Context, res *item.TransitionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, res)
}

func (f *fakeItems) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

type fakeAccounts struct {
	created []account.CreateParams
}

func (f *fakeAccounts) CreateForItem(ctx context.Context, params []account.CreateParams) ([]*account.Account, error) {
	f.created = append(f.created, params...)
	out := make([]*account.Account, 0, len(params))
	for _, p := range params {
		out = append(out, &account.Account{ID: p.ID, ItemID: p.ItemID, UserID: p.UserID, FundingSourceURL: p.FundingSourceURL})
	}
	return out, nil
}

type fakeFunding struct {
	accounts []string
}

func (f *fakeFunding) LinkFundingSource(ctx context.Context, userID int64, accessToken, accountID string) (string, error) {
	f.accounts = append(f.accounts, accountID)
	return "https://processor.test/funding-sources/" + accountID, nil
}

type fixture struct {
	broker   *Broker
	repo     *memRepo
	agg      *fakeAggregator
	items    *fakeItems
	accounts *fakeAccounts
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemRepo(),
		agg:      &fakeAggregator{},
		items:    newFakeItems(),
		accounts: &fakeAccounts{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	tx := &fakeTx{participants: []txParticipant{f.repo, f.items}}
	f.broker = NewBroker(f.repo, tx, f.agg, f.items, f.accounts, nil, Config{
		TTL:   30 * time.Minute,
		Retry: retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond},
	})
	f.broker.now = func() time.Time { return f.now }
	return f
}

func int64Ptr(v int64) *int64 { return &v }

func TestIssue_InitialMode(t *testing.T) {
	f := newFixture(t)

	tok, err := f.broker.Issue(context.Background(), 7, nil)
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	if tok.Mode() != ModeInitial {
		t.Errorf("Mode() = %s, want initial", tok.Mode())
	}
	if want := f.now.Add(30 * time.Minute); !tok.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, want)
	}
}

func TestIssue_ReplacesPriorUnconsumedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.broker.Issue(ctx, 7, nil)
	second, err := f.broker.Issue(ctx, 7, nil)
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	if first.Value == second.Value {
		t.Fatal("expected a new token value")
	}

	if _, err := f.repo.Get(ctx, first.Value); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("prior token still present: %v", err)
	}
	if _, err := f.broker.Consume(ctx, first.Value, 7); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Consume(prior) error = %v, want ErrTokenNotFound", err)
	}

	// Other targets are untouched.
	f.items.put(item.Item{ID: 1, UserID: 7, State: item.StateBad, AccessToken: "access-1"})
	update, _ := f.broker.Issue(ctx, 7, int64Ptr(1))
	if _, err := f.repo.Get(ctx, second.Value); err != nil {
		t.Errorf("initial token removed by update-mode issue: %v", err)
	}
	if update.Mode() != ModeUpdate {
		t.Errorf("Mode() = %s, want update", update.Mode())
	}
}

func TestIssue_UpstreamExpirationCapsTTL(t *testing.T) {
	f := newFixture(t)
	f.agg.CreateLinkTokenFunc = func(ctx context.Context, req TokenRequest) (*IssuedToken, error) {
		return &IssuedToken{Value: "link-short", Expiration: f.now.Add(10 * time.Minute)}, nil
	}

	tok, err := f.broker.Issue(context.Background(), 7, nil)
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	if want := f.now.Add(10 * time.Minute); !tok.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, want)
	}
}

func TestIssue_UpdateMode(t *testing.T) {
	f := newFixture(t)
	f.items.put(item.Item{ID: 42, UserID: 7, State: item.StateBad, AccessToken: "access-42"})

	var gotAccess string
	f.agg.CreateLinkTokenFunc = func(ctx context.Context, req TokenRequest) (*IssuedToken, error) {
		gotAccess = req.AccessToken
		return &IssuedToken{Value: "link-update"}, nil
	}

	if _, err := f.broker.Issue(context.Background(), 8, int64Ptr(42)); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("Issue() for other user error = %v, want ErrNotOwned", err)
	}
	if f.agg.createCalls.Load() != 0 {
		t.Error("aggregator called for a non-owned item")
	}

	if _, err := f.broker.Issue(context.Background(), 7, int64Ptr(42)); err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	if gotAccess != "access-42" {
		t.Errorf("update mode access token = %q, want access-42", gotAccess)
	}

	if _, err := f.broker.Issue(context.Background(), 7, int64Ptr(999)); !errors.Is(err, item.ErrItemNotFound) {
		t.Errorf("Issue() for missing item error = %v, want ErrItemNotFound", err)
	}
}

func TestIssue_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantErr   error
		wantCalls int32
	}{
		{
			name:      "transient retried then unavailable",
			err:       upstream.FromResponse("aggregator", 503, "", ""),
			wantErr:   ErrUpstreamUnavailable,
			wantCalls: 3,
		},
		{
			name:      "timeout retried then unavailable",
			err:       upstream.FromTransport("aggregator", context.DeadlineExceeded),
			wantErr:   ErrUpstreamUnavailable,
			wantCalls: 3,
		},
		{
			name:      "invalid api keys surfaces immediately",
			err:       upstream.FromResponse("aggregator", 400, "INVALID_API_KEYS", "invalid client_id or secret provided"),
			wantErr:   ErrUpstreamMisconfigured,
			wantCalls: 1,
		},
		{
			name:      "invalid request rejected without retry",
			err:       upstream.FromResponse("aggregator", 400, "INVALID_FIELD", "country_codes must be a non-empty list"),
			wantErr:   ErrUpstreamRejected,
			wantCalls: 1,
		},
		{
			name:      "missing credentials",
			err:       upstream.MissingCredentials("aggregator"),
			wantErr:   ErrUpstreamMisconfigured,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.agg.CreateLinkTokenFunc = func(ctx context.Context, req TokenRequest) (*IssuedToken, error) {
				return nil, tt.err
			}

			_, err := f.broker.Issue(context.Background(), 7, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Issue() error = %v, want %v", err, tt.wantErr)
			}
			if got := f.agg.createCalls.Load(); got != tt.wantCalls {
				t.Errorf("aggregator calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestIssue_RecoversAfterTransientFailure(t *testing.T) {
	f := newFixture(t)
	var calls int
	f.agg.CreateLinkTokenFunc = func(ctx context.Context, req TokenRequest) (*IssuedToken, error) {
		calls++
		if calls == 1 {
			return nil, upstream.FromResponse("aggregator", 500, "", "")
		}
		return &IssuedToken{Value: "link-ok"}, nil
	}

	tok, err := f.broker.Issue(context.Background(), 7, nil)
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	if tok.Value != "link-ok" {
		t.Errorf("Value = %q, want link-ok", tok.Value)
	}
}

func TestConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, _ := f.broker.Issue(ctx, 7, nil)

	if _, err := f.broker.Consume(ctx, tok.Value, 8); !errors.Is(err, ErrNotOwned) {
		t.Errorf("Consume() by other user error = %v, want ErrNotOwned", err)
	}

	ec, err := f.broker.Consume(ctx, tok.Value, 7)
	if err != nil {
		t.Fatalf("Consume() failed: %v", err)
	}
	if ec.Mode != ModeInitial || ec.UserID != 7 {
		t.Errorf("ExchangeContext = %+v", ec)
	}

	if _, err := f.broker.Consume(ctx, tok.Value, 7); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("second Consume() error = %v, want ErrAlreadyConsumed", err)
	}
}

func TestConsume_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, _ := f.broker.Issue(ctx, 7, nil)

	f.now = f.now.Add(30 * time.Minute)

	if _, err := f.broker.Consume(ctx, tok.Value, 7); !errors.Is(err, ErrExpired) {
		t.Errorf("Consume() error = %v, want ErrExpired", err)
	}
	if _, err := f.broker.Inspect(ctx, tok.Value, 7); !errors.Is(err, ErrExpired) {
		t.Errorf("Inspect() error = %v, want ErrExpired", err)
	}
}

func TestConsume_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, _ := f.broker.Issue(ctx, 7, nil)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.broker.Consume(ctx, tok.Value, 7)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadyConsumed):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("successful consumes = %d, want 1", wins.Load())
	}
	if conflicts.Load() != 15 {
		t.Errorf("conflicts = %d, want 15", conflicts.Load())
	}
}

func TestCompleteLink_InitialCreatesGoodItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, _ := f.broker.Issue(ctx, 7, nil)

	res, err := f.broker.CompleteLink(ctx, CompleteRequest{
		UserID:        7,
		LinkToken:     tok.Value,
		PublicToken:   "public-sandbox-1",
		InstitutionID: "ins_109508",
	})
	if err != nil {
		t.Fatalf("CompleteLink() failed: %v", err)
	}
	if res.Mode != ModeInitial {
		t.Errorf("Mode = %s, want initial", res.Mode)
	}
	if res.Item.State != item.StateGood || res.Item.UserID != 7 {
		t.Errorf("Item = %+v, want GOOD item for user 7", res.Item)
	}
	if len(res.Accounts) != 2 {
		t.Errorf("accounts = %d, want 2", len(res.Accounts))
	}
	for _, p := range f.accounts.created {
		if p.ItemID != res.Item.ID {
			t.Errorf("account %s ItemID = %d, want %d", p.ID, p.ItemID, res.Item.ID)
		}
	}

	stored, _ := f.repo.Get(ctx, tok.Value)
	if stored.ConsumedAt == nil {
		t.Error("link token not consumed")
	}

	_, err = f.broker.CompleteLink(ctx, CompleteRequest{
		UserID:        7,
		LinkToken:     tok.Value,
		PublicToken:   "public-sandbox-1",
		InstitutionID: "ins_109508",
	})
	if !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("replayed CompleteLink() error = %v, want ErrAlreadyConsumed", err)
	}
	if f.agg.exchangeCalls.Load() != 1 {
		t.Errorf("exchange calls = %d, want 1", f.agg.exchangeCalls.Load())
	}
	if f.items.count() != 1 {
		t.Errorf("items = %d, want 1", f.items.count())
	}
}

func TestCompleteLink_InitialRollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, _ := f.broker.Issue(ctx, 7, nil)
	f.items.createErr = errors.New("db down")

	_, err := f.broker.CompleteLink(ctx, CompleteRequest{
		UserID:        7,
		LinkToken:     tok.Value,
		PublicToken:   "public-sandbox-1",
		InstitutionID: "ins_1",
	})
	if err == nil {
		t.Fatal("CompleteLink() expected error")
	}

	stored, _ := f.repo.Get(ctx, tok.Value)
	if stored.ConsumedAt != nil {
		t.Error("link token consumed although the item was not stored")
	}
	if f.agg.removed.Load() != 1 {
		t.Errorf("orphaned access not released, RemoveItem calls = %d", f.agg.removed.Load())
	}
}

func TestCompleteLink_InitialRequiresPublicToken(t *testing.T) {
	f := newFixture(t)
	tok, _ := f.broker.Issue(context.Background(), 7, nil)

	_, err := f.broker.CompleteLink(context.Background(), CompleteRequest{UserID: 7, LinkToken: tok.Value, InstitutionID: "ins_1"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("CompleteLink() error = %v, want ErrInvalidInput", err)
	}
}

func TestCompleteLink_RejectedPublicToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, _ := f.broker.Issue(ctx, 7, nil)
	f.agg.ExchangePublicTokenFunc = func(ctx context.Context, publicToken string) (*Exchange, error) {
		return nil, upstream.FromResponse("aggregator", 400, "INVALID_PUBLIC_TOKEN", "provided public token is in an invalid format")
	}

	_, err := f.broker.CompleteLink(ctx, CompleteRequest{
		UserID: 7, LinkToken: tok.Value, PublicToken: "public-garbled", InstitutionID: "ins_1",
	})
	if !errors.Is(err, ErrUpstreamRejected) {
		t.Fatalf("CompleteLink() error = %v, want ErrUpstreamRejected", err)
	}
	if errors.Is(err, ErrUpstreamMisconfigured) || errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("rejected public token classified as %v", err)
	}
	var ue *upstream.Error
	if !errors.As(err, &ue) || ue.Code != "INVALID_PUBLIC_TOKEN" {
		t.Errorf("upstream code not preserved: %v", err)
	}
	if f.agg.exchangeCalls.Load() != 1 {
		t.Errorf("exchange calls = %d, want 1", f.agg.exchangeCalls.Load())
	}

	stored, _ := f.repo.Get(ctx, tok.Value)
	if stored.ConsumedAt != nil {
		t.Error("link token consumed by a rejected exchange")
	}
	if f.items.count() != 0 {
		t.Errorf("items = %d, want 0", f.items.count())
	}
}

func TestCompleteLink_MisconfiguredExchange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, _ := f.broker.Issue(ctx, 7, nil)
	f.agg.ExchangePublicTokenFunc = func(ctx context.Context, publicToken string) (*Exchange, error) {
		return nil, upstream.FromResponse("aggregator", 400, "INVALID_SECRET", "")
	}

	_, err := f.broker.CompleteLink(ctx, CompleteRequest{
		UserID: 7, LinkToken: tok.Value, PublicToken: "public-1", InstitutionID: "ins_1",
	})
	if !errors.Is(err, ErrUpstreamMisconfigured) {
		t.Errorf("CompleteLink() error = %v, want ErrUpstreamMisconfigured", err)
	}
}

func TestCompleteLink_UpdateModeRepairsItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.items.put(item.Item{ID: 42, UserID: 7, State: item.StateBad, AccessToken: "access-42"})
	tok, _ := f.broker.Issue(ctx, 7, int64Ptr(42))

	res, err := f.broker.CompleteLink(ctx, CompleteRequest{UserID: 7, LinkToken: tok.Value})
	if err != nil {
		t.Fatalf("CompleteLink() failed: %v", err)
	}
	if res.Mode != ModeUpdate || res.Item.State != item.StateGood {
		t.Errorf("result = %+v, want update mode with GOOD item", res)
	}
	if f.agg.exchangeCalls.Load() != 0 {
		t.Error("update mode must not exchange a public token")
	}
	if len(f.items.published) != 1 {
		t.Errorf("published transitions = %d, want 1", len(f.items.published))
	}

	if _, err := f.broker.CompleteLink(ctx, CompleteRequest{UserID: 7, LinkToken: tok.Value}); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("replayed update error = %v, want ErrAlreadyConsumed", err)
	}
	if len(f.items.published) != 1 {
		t.Error("replayed update relinked the item")
	}
}

func TestCompleteLink_FundingSources(t *testing.T) {
	f := newFixture(t)
	funding := &fakeFunding{}
	f.broker.SetFundingLinker(funding)
	tok, _ := f.broker.Issue(context.Background(), 7, nil)

	res, err := f.broker.CompleteLink(context.Background(), CompleteRequest{
		UserID: 7, LinkToken: tok.Value, PublicToken: "public-1", InstitutionID: "ins_1",
	})
	if err != nil {
		t.Fatalf("CompleteLink() failed: %v", err)
	}

	if len(funding.accounts) != 1 || funding.accounts[0] != "a1" {
		t.Errorf("funding sources linked for %v, want [a1]", funding.accounts)
	}
	for _, acc := range res.Accounts {
		if acc.ID == "a1" && acc.FundingSourceURL == "" {
			t.Error("depository account missing funding source URL")
		}
		if acc.ID == "a2" && acc.FundingSourceURL != "" {
			t.Error("credit account should not get a funding source")
		}
	}
}

type fakeOwners struct {
	owners []identity.Owner
	err    error
	calls  atomic.Int32
}

func (f *fakeOwners) GetIdentity(ctx context.Context, accessToken string) ([]identity.Owner, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.owners, nil
}

type fakeVerifier struct {
	required  map[int64]bool
	recorded  []int64
	recordErr error
}

func (f *fakeVerifier) Required(ctx context.Context, userID int64) (bool, error) {
	return f.required[userID], nil
}

func (f *fakeVerifier) Record(ctx context.Context, userID, itemID int64, owners []identity.Owner) (*identity.Check, error) {
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	f.recorded = append(f.recorded, itemID)
	c := identity.Match("Alberta Charleson", "accountholder0@example.com", owners)
	c.ItemID, c.UserID = itemID, userID
	return &c, nil
}

func TestCompleteLink_IdentityVerification(t *testing.T) {
	owners := &fakeOwners{owners: []identity.Owner{{Names: []string{"Alberta Bobbeth Charleson"}, Emails: []string{"accountholder0@example.com"}}}}

	t.Run("Opted In", func(t *testing.T) {
		f := newFixture(t)
		verifier := &fakeVerifier{required: map[int64]bool{7: true}}
		f.broker.SetIdentityVerifier(owners, verifier)
		tok, _ := f.broker.Issue(context.Background(), 7, nil)

		res, err := f.broker.CompleteLink(context.Background(), CompleteRequest{
			UserID: 7, LinkToken: tok.Value, PublicToken: "public-1", InstitutionID: "ins_1",
		})
		if err != nil {
			t.Fatalf("CompleteLink() failed: %v", err)
		}
		if res.Identity == nil || !res.Identity.Passed || res.Identity.ItemID != res.Item.ID {
			t.Errorf("Identity = %+v, want passing check for item %d", res.Identity, res.Item.ID)
		}
		if len(verifier.recorded) != 1 {
			t.Errorf("checks recorded = %d, want 1", len(verifier.recorded))
		}
	})

	t.Run("Not Opted In", func(t *testing.T) {
		f := newFixture(t)
		calls := owners.calls.Load()
		f.broker.SetIdentityVerifier(owners, &fakeVerifier{})
		tok, _ := f.broker.Issue(context.Background(), 7, nil)

		res, err := f.broker.CompleteLink(context.Background(), CompleteRequest{
			UserID: 7, LinkToken: tok.Value, PublicToken: "public-1", InstitutionID: "ins_1",
		})
		if err != nil {
			t.Fatalf("CompleteLink() failed: %v", err)
		}
		if res.Identity != nil {
			t.Errorf("Identity = %+v, want none", res.Identity)
		}
		if owners.calls.Load() != calls {
			t.Error("owner data fetched for a user who did not opt in")
		}
	})

	t.Run("Owner Fetch Fails", func(t *testing.T) {
		f := newFixture(t)
		failing := &fakeOwners{err: upstream.FromResponse("aggregator", 400, "PRODUCTS_NOT_SUPPORTED", "")}
		f.broker.SetIdentityVerifier(failing, &fakeVerifier{required: map[int64]bool{7: true}})
		tok, _ := f.broker.Issue(context.Background(), 7, nil)

		_, err := f.broker.CompleteLink(context.Background(), CompleteRequest{
			UserID: 7, LinkToken: tok.Value, PublicToken: "public-1", InstitutionID: "ins_1",
		})
		if !errors.Is(err, ErrUpstreamRejected) {
			t.Errorf("CompleteLink() error = %v, want ErrUpstreamRejected", err)
		}
		if f.items.count() != 0 {
			t.Error("item stored without its owner check")
		}
		if f.agg.removed.Load() != 1 {
			t.Errorf("RemoveItem calls = %d, want 1", f.agg.removed.Load())
		}
	})

	t.Run("Record Fails", func(t *testing.T) {
		f := newFixture(t)
		f.broker.SetIdentityVerifier(owners, &fakeVerifier{required: map[int64]bool{7: true}, recordErr: errors.New("db down")})
		tok, _ := f.broker.Issue(context.Background(), 7, nil)

		if _, err := f.broker.CompleteLink(context.Background(), CompleteRequest{
			UserID: 7, LinkToken: tok.Value, PublicToken: "public-1", InstitutionID: "ins_1",
		}); err == nil {
			t.Fatal("CompleteLink() expected error")
		}
		stored, _ := f.repo.Get(context.Background(), tok.Value)
		if stored.ConsumedAt != nil {
			t.Error("link token consumed although the owner check was not stored")
		}
		if f.items.count() != 0 {
			t.Errorf("items = %d, want 0 after rollback", f.items.count())
		}
	})
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, _ := f.broker.Issue(ctx, 7, nil)
	f.now = f.now.Add(2 * time.Hour)
	fresh, _ := f.broker.Issue(ctx, 8, nil)

	n, err := f.broker.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() removed %d, want 1", n)
	}
	if want := f.now.Add(-30 * time.Minute); !f.repo.staleCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", f.repo.staleCutoff, want)
	}
	if _, err := f.repo.Get(ctx, old.Value); !errors.Is(err, ErrTokenNotFound) {
		t.Error("stale token not removed")
	}
	if _, err := f.repo.Get(ctx, fresh.Value); err != nil {
		t.Error("fresh token removed")
	}
}

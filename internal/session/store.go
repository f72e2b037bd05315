package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/alumniportal/internal/model"
	"github.com/hitoshi/alumniportal/internal/profile"
	"github.com/hitoshi/alumniportal/internal/provider"
)

// defaultResolveTimeout はイベントループ内のプロバイダー呼び出しの既定タイムアウト。
const defaultResolveTimeout = 10 * time.Second

// Recorder はセッション操作のメトリクス記録先。metrics.Collectorが満たす。
type Recorder interface {
	RecordLogin(result string)
	RecordRegistration(outcome string)
	RecordProfileInsertFailure()
	RecordLogout(remoteFailed bool)
	RecordSessionEvent(event string)
}

// ProfileCleaner は登録時の自由入力項目を保存前に無害化する。
type ProfileCleaner interface {
	Clean(p *model.Profile)
}

// Options はStoreの設定。
type Options struct {
	// Resolver はプロフィール解決に使う。nilの場合はprofile.NewResolver(nil)。
	Resolver *profile.Resolver
	Logger   *slog.Logger
	Recorder Recorder
	// Sanitizer がnilの場合は無害化を行わない。
	Sanitizer ProfileCleaner
	// RedirectTo はメール確認リンクの遷移先。
	RedirectTo string
	// ResolveTimeout はイベントループ内のプロバイダー呼び出しのタイムアウト。
	ResolveTimeout time.Duration
	// Now は現在時刻の取得関数。テストで差し替える。
	Now func() time.Time
}

type msgKind int

const (
	msgInit msgKind = iota
	msgEvent
	msgBegin
	msgEnd
	msgResync
	msgClear
)

// message はイベントループが処理する1件の要求。
type message struct {
	kind  msgKind
	event provider.ChangeEvent
	done  chan struct{}
}

// Store は1ブラウザ分のセッション状態を保持する。
// 最終的な認証状態を書き込むのはプロバイダーの変更通知を処理するイベントループだけで、
// LoginとRegisterはローディング状態の切り替えと成否の判定のみを行う。
type Store struct {
	p    provider.Provider
	opts Options
	log  *slog.Logger

	// メールボックス。プロバイダーのコールバックをブロックしないよう上限を設けない
	mbMu   sync.Mutex
	queue  []message
	closed bool
	wake   chan struct{}

	stateMu     sync.RWMutex
	state       State
	changed     chan struct{}
	watchers    map[int]chan State
	nextWatcher int
	watchClosed bool

	// 以下はイベントループのみが触る
	user        *model.User
	initialized bool
	pending     int

	ctx         context.Context
	cancel      context.CancelFunc
	stopped     chan struct{}
	startOnce   sync.Once
	closeOnce   sync.Once
	started     atomic.Bool
	unsubscribe func()
	lastActive  atomic.Int64
}

// NewStore はStoreを生成する。Startを呼ぶまでイベントは処理されない。
func NewStore(p provider.Provider, opts Options) *Store {
	if opts.Resolver == nil {
		opts.Resolver = profile.NewResolver(opts.Now)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = defaultResolveTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		p:        p,
		opts:     opts,
		log:      opts.Logger,
		wake:     make(chan struct{}, 1),
		state:    State{IsLoading: true},
		changed:  make(chan struct{}),
		watchers: make(map[int]chan State),
		stopped:  make(chan struct{}),
	}
	s.touch()
	return s
}

// Start はプロバイダーの変更通知を購読し、現在のセッションを読み込むイベントループを起動する。
// ctxがキャンセルされるかCloseが呼ばれるとループは終了する。
func (s *Store) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(ctx)
		s.started.Store(true)
		s.unsubscribe = s.p.OnAuthStateChange(func(ev provider.ChangeEvent) {
			s.enqueue(message{kind: msgEvent, event: ev})
		})
		// 購読後に初期化することで、その間の通知を取りこぼさない
		s.enqueue(message{kind: msgInit})
		go s.run()
	})
}

// Close は購読を解除しイベントループを停止する。複数回呼んでも安全。
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mbMu.Lock()
		s.closed = true
		s.mbMu.Unlock()

		if s.started.Load() {
			s.unsubscribe()
			s.cancel()
			<-s.stopped
		} else {
			close(s.stopped)
		}

		// ループ停止後なのでpublishと競合しない
		s.stateMu.Lock()
		s.watchClosed = true
		for id, ch := range s.watchers {
			close(ch)
			delete(s.watchers, id)
		}
		s.stateMu.Unlock()
	})
}

// Snapshot は現在の状態のコピーを返す。
func (s *Store) Snapshot() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.clone()
}

// Watch は状態が置き換わるたびに最新の状態を受け取るチャネルを返す。
// 受信が遅れた場合は古い状態を捨てて最新のみを保持する。戻り値の関数で購読を解除する。
// ストアが閉じられるとチャネルも閉じられる。
func (s *Store) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.stateMu.Lock()
	if s.watchClosed {
		ch <- s.state.clone()
		close(ch)
		s.stateMu.Unlock()
		return ch, func() {}
	}
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	ch <- s.state.clone()
	s.stateMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.stateMu.Lock()
			delete(s.watchers, id)
			s.stateMu.Unlock()
		})
	}
}

// WaitSettled はIsLoadingがfalseになるまで待ち、その時点の状態を返す。
func (s *Store) WaitSettled(ctx context.Context) (State, error) {
	for {
		s.stateMu.RLock()
		st, changed := s.state, s.changed
		s.stateMu.RUnlock()

		if !st.IsLoading {
			return st.clone(), nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return st.clone(), ctx.Err()
		case <-s.stopped:
			return st.clone(), ErrClosed
		}
	}
}

// LastActive は最後に操作された時刻を返す。Registryのアイドル判定に使う。
func (s *Store) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Touch はストアを使用中として記録する。
func (s *Store) Touch() { s.touch() }

func (s *Store) touch() {
	s.lastActive.Store(s.opts.Now().UnixNano())
}

// Login はメールアドレスとパスワードで認証し、ロール指定があれば照合する。
// ロールが一致しない場合はプロバイダーからサインアウトしてからRoleMismatchを返す。
// 成功時の最終的な状態は変更通知の処理で書き込まれる。
func (s *Store) Login(ctx context.Context, req LoginRequest) error {
	s.touch()
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.end()

	sess, err := s.p.SignInWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		ae := signInError(err)
		s.opts.Recorder.RecordLogin(string(ae.Kind))
		return ae
	}

	if req.ExpectedRole == "" {
		s.opts.Recorder.RecordLogin("success")
		return nil
	}

	// 認証直後のセッションを取り直してからプロフィールを参照する
	ident := sess.User
	current, err := s.p.GetSession(ctx)
	if err != nil {
		s.signOutQuietly(ctx)
		s.opts.Recorder.RecordLogin(string(KindProfileFetchError))
		return &AuthError{Kind: KindProfileFetchError, Err: err}
	}
	if current != nil {
		ident = current.User
	}

	role, err := s.opts.Resolver.FetchRole(ctx, s.p, ident.ID)
	if err != nil {
		s.signOutQuietly(ctx)
		s.opts.Recorder.RecordLogin(string(KindProfileFetchError))
		return &AuthError{Kind: KindProfileFetchError, Err: err}
	}
	if role != req.ExpectedRole {
		s.signOutQuietly(ctx)
		s.opts.Recorder.RecordLogin(string(KindRoleMismatch))
		return &AuthError{Kind: KindRoleMismatch, Expected: req.ExpectedRole, Actual: role}
	}

	s.opts.Recorder.RecordLogin("success")
	return nil
}

// Register はアカウントを作成し、続けてプロフィール行を作成する。
// プロフィール行の作成失敗はログとメトリクスに記録するのみで、登録自体は成功として扱う。
func (s *Store) Register(ctx context.Context, req RegisterRequest) (RegisterOutcome, error) {
	s.touch()
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.end()

	res, err := s.p.SignUp(ctx, req.Email, req.Password, s.opts.RedirectTo)
	if err != nil {
		ae := signUpError(err)
		s.opts.Recorder.RecordRegistration(string(ae.Kind))
		return 0, ae
	}

	if res.User != nil {
		s.insertProfile(ctx, res.User.ID, req)
	}

	if res.Session == nil {
		s.opts.Recorder.RecordRegistration(ConfirmationPending.String())
		return ConfirmationPending, nil
	}

	// サインアップ時の通知はプロフィール作成前に解決されている可能性があるため取り直す
	s.enqueue(message{kind: msgResync})
	s.opts.Recorder.RecordRegistration(SessionActive.String())
	return SessionActive, nil
}

func (s *Store) insertProfile(ctx context.Context, id string, req RegisterRequest) {
	role := req.Role
	if !role.Valid() {
		role = model.RoleAlumni
	}
	row := &model.Profile{
		ID:             id,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Role:           role,
		GraduationYear: req.GraduationYear,
		Course:         req.Course,
		PhoneNumber:    req.PhoneNumber,
	}
	if s.opts.Sanitizer != nil {
		s.opts.Sanitizer.Clean(row)
	}

	if err := s.p.InsertProfile(ctx, row); err != nil {
		s.opts.Recorder.RecordProfileInsertFailure()
		s.log.Error("プロフィールの作成に失敗しました（アカウントは作成済み）",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Logout はプロバイダーのセッションを終了し、成否に関わらずローカルの状態を未ログインにする。
// エラーは呼び出し元に返さずログのみ記録する。
func (s *Store) Logout(ctx context.Context) {
	s.touch()

	err := s.p.SignOut(ctx)
	if err != nil {
		s.log.Warn("プロバイダーのサインアウトに失敗しました",
			slog.String("error", err.Error()),
		)
	}
	s.opts.Recorder.RecordLogout(err != nil)

	m := message{kind: msgClear, done: make(chan struct{})}
	if !s.enqueue(m) {
		return
	}
	select {
	case <-m.done:
	case <-s.stopped:
	}
}

// ChangePassword はログイン中ユーザーのパスワードを変更する。
func (s *Store) ChangePassword(ctx context.Context, newPassword string) error {
	s.touch()
	if !s.Snapshot().IsAuthenticated {
		return ErrNotAuthenticated
	}
	return s.p.UpdatePassword(ctx, newPassword)
}

func (s *Store) signOutQuietly(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ResolveTimeout)
	defer cancel()
	if err := s.p.SignOut(ctx); err != nil {
		s.log.Warn("ロール照合後のサインアウトに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// begin はローディング状態に入る。ループで処理されるまで待つ。
func (s *Store) begin(ctx context.Context) error {
	m := message{kind: msgBegin, done: make(chan struct{})}
	if !s.enqueue(m) {
		return ErrClosed
	}
	select {
	case <-m.done:
		return nil
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		// beginは処理済みになる可能性があるため、対応するendを必ず積む
		s.enqueue(message{kind: msgEnd})
		return ctx.Err()
	}
}

// end はローディング状態を抜ける。先に積まれた通知が処理されてから反映される。
func (s *Store) end() {
	m := message{kind: msgEnd, done: make(chan struct{})}
	if !s.enqueue(m) {
		return
	}
	select {
	case <-m.done:
	case <-s.stopped:
	}
}

// enqueue はメッセージを積む。Start前またはClose済みの場合はfalseを返す。
func (s *Store) enqueue(m message) bool {
	s.mbMu.Lock()
	if s.closed || !s.started.Load() {
		s.mbMu.Unlock()
		return false
	}
	s.queue = append(s.queue, m)
	s.mbMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Store) drain() []message {
	s.mbMu.Lock()
	defer s.mbMu.Unlock()
	msgs := s.queue
	s.queue = nil
	return msgs
}

// run はイベントループ本体。メッセージを到着順に1件ずつ処理する。
func (s *Store) run() {
	defer close(s.stopped)

	for {
		for _, m := range s.drain() {
			if s.ctx.Err() != nil {
				return
			}
			s.handle(m)
			if m.done != nil {
				close(m.done)
			}
		}

		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Store) handle(m message) {
	switch m.kind {
	case msgInit, msgResync:
		s.syncFromProvider()
	case msgEvent:
		s.opts.Recorder.RecordSessionEvent(string(m.event.Event))
		s.project(m.event.Session)
		s.initialized = true
	case msgBegin:
		s.pending++
	case msgEnd:
		if s.pending > 0 {
			s.pending--
		}
	case msgClear:
		s.user = nil
		s.initialized = true
	}
	s.publish()
}

// syncFromProvider はプロバイダーに現在のセッションを問い合わせて状態を作り直す。
func (s *Store) syncFromProvider() {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ResolveTimeout)
	defer cancel()

	sess, err := s.p.GetSession(ctx)
	if err != nil {
		s.log.Warn("セッションの取得に失敗したため未ログインとして扱います",
			slog.String("error", err.Error()),
		)
		sess = nil
	}
	s.project(sess)
	s.initialized = true
}

// project はプロバイダーのセッションをユーザー情報に射影する。
// プロフィールの取得に失敗した場合は中途半端な状態を見せず未ログインにする。
func (s *Store) project(sess *provider.Session) {
	if sess == nil {
		s.user = nil
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ResolveTimeout)
	defer cancel()

	u, err := s.opts.Resolver.Resolve(ctx, s.p, sess.User)
	if err != nil {
		s.log.Warn("プロフィールの解決に失敗したため未ログインとして扱います",
			slog.String("user_id", sess.User.ID),
			slog.String("error", err.Error()),
		)
		s.user = nil
		return
	}
	s.user = u
}

// publish は状態を丸ごと置き換え、購読者に通知する。
func (s *Store) publish() {
	next := State{
		User:            s.user,
		IsLoading:       !s.initialized || s.pending > 0,
		IsAuthenticated: s.user != nil,
	}.clone()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.state = next
	close(s.changed)
	s.changed = make(chan struct{})

	for _, ch := range s.watchers {
		// 最新のみを保持する
		select {
		case <-ch:
		default:
		}
		ch <- next.clone()
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string) {}
func (nopRecorder) RecordRegistration(string) {}
func (nopRecorder) RecordProfileInsertFailure() {}
func (nopRecorder) RecordLogout(bool) {}
func (nopRecorder) RecordSessionEvent(string) {}

package provider

import (
	"slices"
	"sync"
)

// Listeners はセッション変更通知の購読者を管理する。
// クライアント実装が共通で使う。Emitはロックを保持せずにコールバックを呼ぶ。
type Listeners struct {
	mu     sync.Mutex
	nextID int
	items  map[int]Listener
}

// Add は購読者を追加し、解除関数を返す。解除関数は冪等。
func (l *Listeners) Add(fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.items == nil {
		l.items = make(map[int]Listener)
	}
	id := l.nextID
	l.nextID++
	l.items[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.items, id)
			l.mu.Unlock()
		})
	}
}

// Emit は全購読者に登録順で通知を配信する。
func (l *Listeners) Emit(ev ChangeEvent) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.items))
	for id := range l.items {
		ids = append(ids, id)
	}
	fns := make([]Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, l.items[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len は現在の購読者数を返す。
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

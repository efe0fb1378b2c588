package preview

import "civy/internal/editor"

// Bind 让 p 跟随 store 的每次变更，并立即以当前快照开始一个周期。
// 返回的函数解除订阅，不会关闭 p。
func Bind(store *editor.Store, p *Pipeline) func() {
	unsubscribe := store.Subscribe(p.Update)
	p.Update(store.Snapshot())
	return unsubscribe
}

package delivery

import "sync"

// DefaultDedupCapacity — сколько последних id сообщений помнит кеш дедупликации.
const DefaultDedupCapacity = 100

// Dedup — ограниченный кеш недавно обработанных id сообщений. Подавляет
// повторную доставку одного сообщения с двух путей (broadcast + лента БД).
// Вытеснение строго FIFO: при переполнении уходят самые старые записи,
// записи новее порога вытеснения не трогаются. Повторное использование id
// между переписками не ожидается, поэтому вытеснение по времени не нужно.
type Dedup struct {
	mu    sync.Mutex
	cap   int
	order []string
	seen  map[string]struct{}
}

func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &Dedup{
		cap:   capacity,
		order: make([]string, 0, capacity),
		seen:  make(map[string]struct{}, capacity),
	}
}

// Seen сообщает, был ли id уже записан.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

// Record запоминает id. Повторная запись уже известного id ничего не меняет.
func (d *Dedup) Record(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	for len(d.order) > d.cap {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
}

// CheckAndRecord атомарно проверяет и записывает id: true, если id новый
// (и он теперь записан), false — если уже был.
func (d *Dedup) CheckAndRecord(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	for len(d.order) > d.cap {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return true
}

// Len возвращает текущее число записей.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

package localstore

import "errors"

// ErrUnavailable indicates the local store cannot be opened or written,
// e.g. a read-only or restricted data directory. The engine degrades to
// "state not persisted this session" and surfaces the condition once.
var ErrUnavailable = errors.New("local store unavailable")

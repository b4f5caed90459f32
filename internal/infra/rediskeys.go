package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "medrec"
)

// Ключи для Lists (очереди)
const (
	// RedisKeySyncDeadLetter — регистрации в PDP, которые не прошли после всех ретраев.
	RedisKeySyncDeadLetter = RedisNamespace + ":pdp:sync:dead_letter"
)

// Ключи блокировок (SetNX)
const (
	// RedisKeySyncReplayLock — только один инстанс разбирает dead-letter за интервал.
	RedisKeySyncReplayLock = RedisNamespace + ":pdp:sync:replay_lock"
)

// Package fuzztests houses Go fuzz harnesses that exercise the gridcc
// input surfaces: bitcode assembly parsing with metadata extraction and
// cache file loading. Its goal is to smoke test robustness and guard
// against panics or allocator explosions on arbitrary inputs.
//
// Назначение: запускать fuzz-обработчики, которые скармливают байты
// парсеру скриптов и загрузчику кеша.
//
// Не делает: генерацию корпусов, запись файлов вне временных каталогов,
// выполнение CLI.
//
// Зависимости: internal/script, internal/meta, internal/cache.
package fuzztests

// Package repository объявляет ошибки слоя хранения, общие для всех реализаций.
package repository

import "errors"

var (
	ErrNotFound = errors.New("repository: not found")
	ErrConflict = errors.New("repository: already exists")
)

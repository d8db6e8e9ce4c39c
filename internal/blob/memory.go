package blob

import (
	memorystore "dynastycore/internal/infra/blob/memory"
)

// MemoryStore is the in-memory backend; Add registers objects it can sign.
type MemoryStore = memorystore.Store

// NewMemory returns an in-memory store issuing URLs under baseURL.
func NewMemory(baseURL string) *MemoryStore { return memorystore.New(baseURL) }

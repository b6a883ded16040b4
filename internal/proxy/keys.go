// Package proxy calls the upstream AI and search providers on behalf of
// the HTTP API.
package proxy

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// Service names, also used as admin config keys.
const (
	Gemini  = "gemini"
	SerpAPI = "serpapi"
	LLM7    = "llm7"
)

// Services lists every configurable provider.
var Services = []string{Gemini, SerpAPI, LLM7}

// placeholder values shipped in sample configs count as unset.
var placeholderKeys = map[string]bool{
	"your_gemini_api_key_here":  true,
	"your_serpapi_api_key_here": true,
	"your_llm7_api_key_here":    true,
}

// Keys holds provider API keys. Admins can replace them at runtime.
type Keys struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewKeys(initial map[string]string) *Keys {
	k := &Keys{m: map[string]string{}}
	for svc, v := range initial {
		k.m[svc] = strings.TrimSpace(v)
	}
	return k
}

// Get returns the key for service, or "" when unset.
func (k *Keys) Get(service string) string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v := k.m[service]
	if placeholderKeys[v] {
		return ""
	}
	return v
}

// Set replaces the key for service. Unknown services are rejected.
func (k *Keys) Set(service, key string) bool {
	if !IsService(service) {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[service] = strings.TrimSpace(key)
	return true
}

// Replace swaps every key at once, used on config reload.
func (k *Keys) Replace(m map[string]string) {
	next := maps.Clone(m)
	if next == nil {
		next = map[string]string{}
	}
	k.mu.Lock()
	k.m = next
	k.mu.Unlock()
}

// Masked returns every service with its key reduced to the last four
// characters.
func (k *Keys) Masked() map[string]string {
	out := make(map[string]string, len(Services))
	for _, svc := range Services {
		out[svc] = Mask(k.Get(svc))
	}
	return out
}

func Mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func IsService(s string) bool { return slices.Contains(Services, s) }

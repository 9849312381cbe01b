package climb

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Source выдаёт числа из [0, 1).
type Source interface {
	Float64() float64
}

// SeededSource — проверяемый генератор: HMAC-SHA256(serverSeed, "clientSeed:nonce:round"),
// по 4 байта на число. Зная оба сида, партию можно воспроизвести.
type SeededSource struct {
	serverSeed string
	clientSeed string
	nonce      uint64

	mu     sync.Mutex
	round  uint64
	pos    int
	buffer [32]byte
}

// NewSeededSource создаёт генератор с заданными сидами.
func NewSeededSource(serverSeed, clientSeed string, nonce uint64) *SeededSource {
	s := &SeededSource{serverSeed: serverSeed, clientSeed: clientSeed, nonce: nonce}
	s.generate()
	return s
}

// NewRandomSource создаёт генератор со случайным серверным сидом.
func NewRandomSource(clientSeed string) (*SeededSource, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("генерация сида: %w", err)
	}
	return NewSeededSource(hex.EncodeToString(seed[:]), clientSeed, 0), nil
}

// ServerSeed возвращает серверный сид для проверки партии.
func (s *SeededSource) ServerSeed() string { return s.serverSeed }

func (s *SeededSource) generate() {
	h := hmac.New(sha256.New, []byte(s.serverSeed))
	fmt.Fprintf(h, "%s:%d:%d", s.clientSeed, s.nonce, s.round)
	copy(s.buffer[:], h.Sum(nil))
}

func (s *SeededSource) next() byte {
	if s.pos >= len(s.buffer) {
		s.round++
		s.pos = 0
		s.generate()
	}
	b := s.buffer[s.pos]
	s.pos++
	return b
}

// Float64 собирает число из 4 байт: b0/256 + b1/256² + b2/256³ + b3/256⁴.
func (s *SeededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := 0.0
	divider := 1.0
	for i := 0; i < 4; i++ {
		divider *= 256
		result += float64(s.next()) / divider
	}
	return result
}

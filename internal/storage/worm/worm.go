// Пакет worm — файловая WORM-реплика журнала аудита.
// Каждая запись дублируется в дневной JSONL-файл с SHA-256 дайджестом
// сериализованной записи. Дайджесты связаны в цепочку: подмена
// исторической записи обнаруживается без доступа к базе данных.
package worm

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
)

// genesisDigest — начальное значение цепочки дайджестов.
const genesisDigest = "sha256:genesis"

// Line — строка WORM-файла: поля записи аудита плюс цепочка дайджестов.
type Line struct {
	model.AuditLogEntry
	// PrevDigest — дайджест предыдущей строки журнала
	PrevDigest string `json:"prev_digest"`
	// Digest — SHA-256 от JSON-представления строки без самого дайджеста
	Digest string `json:"digest,omitempty"`
}

// VerifyResult — результат проверки целостности цепочки дайджестов.
type VerifyResult struct {
	Valid          bool   `json:"valid"`
	EntriesChecked int    `json:"entries_checked"`
	BrokenAt       int    `json:"broken_at,omitempty"`
	ExpectedDigest string `json:"expected_digest,omitempty"`
	ActualDigest   string `json:"actual_digest,omitempty"`
}

// Store — запись журнала аудита в дневные append-only файлы.
// Потокобезопасен внутри процесса: конкурентные добавления
// сериализуются мьютексом, flock дополнительно защищает файл от
// одновременной записи извне. Хвост цепочки дайджестов хранится
// в памяти, поэтому директорию должен вести ровно один экземпляр
// сервиса: два пишущих процесса разветвят цепочку.
type Store struct {
	// dir — директория WORM-файлов (CM_AUDIT_DIR)
	dir string
	// mu — мьютекс для потокобезопасности
	mu sync.Mutex
	// lastDigest — дайджест последней записанной строки
	lastDigest string
	// logger — логгер
	logger *slog.Logger
}

// New создаёт Store. Создаёт директорию с ограниченными правами,
// если она не существует, и восстанавливает хвост цепочки дайджестов
// из последнего файла.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WORM %s: %w", dir, err)
	}

	s := &Store{
		dir:        dir,
		lastDigest: genesisDigest,
		logger:     logger.With(slog.String("component", "worm")),
	}

	if err := s.recoverLastDigest(); err != nil {
		return nil, err
	}

	return s, nil
}

// Append дописывает запись аудита в файл текущего дня.
// Строка — JSON записи с prev_digest и дайджестом: сначала строка
// сериализуется без поля digest, от результата берётся SHA-256,
// затем строка записывается уже с дайджестом.
func (s *Store) Append(e *model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := Line{
		AuditLogEntry: *e,
		PrevDigest:    s.lastDigest,
	}

	payload, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	sum := sha256.Sum256(payload)
	line.Digest = hex.EncodeToString(sum[:])

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	data = append(data, '\n')

	path := s.fileFor(e.CreatedAt)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	defer f.Close()

	// Эксклюзивная advisory-блокировка сериализует конкурентные
	// дозаписи в один файл между процессами
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("ошибка блокировки файла %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck // снятие блокировки при закрытии

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("ошибка записи в файл %s: %w", path, err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		return fmt.Errorf("ошибка fsync %s: %w", path, err)
	}

	s.lastDigest = line.Digest
	return nil
}

// VerifyChain читает все WORM-файлы в хронологическом порядке
// и проверяет целостность цепочки дайджестов.
func (s *Store) VerifyChain() (*VerifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.listFiles()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	prev := genesisDigest

	for _, path := range files {
		lines, err := readLines(path)
		if err != nil {
			return nil, err
		}

		for _, line := range lines {
			expected, err := computeDigest(line)
			if err != nil {
				return nil, err
			}

			if line.Digest != expected {
				result.Valid = false
				result.EntriesChecked++
				result.BrokenAt = result.EntriesChecked - 1
				result.ExpectedDigest = expected
				result.ActualDigest = line.Digest
				return result, nil
			}

			// Проверяем связность цепочки
			if line.PrevDigest != prev {
				result.Valid = false
				result.EntriesChecked++
				result.BrokenAt = result.EntriesChecked - 1
				result.ExpectedDigest = prev
				result.ActualDigest = line.PrevDigest
				return result, nil
			}

			prev = line.Digest
			result.EntriesChecked++
		}
	}

	return result, nil
}

// Dir возвращает путь к директории WORM-файлов.
func (s *Store) Dir() string {
	return s.dir
}

// fileFor возвращает путь дневного файла для момента времени.
// Формат имени: YYYY-MM-DD.jsonl (UTC).
func (s *Store) fileFor(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return filepath.Join(s.dir, t.UTC().Format("2006-01-02")+".jsonl")
}

// listFiles возвращает WORM-файлы, отсортированные по имени.
// Имена дневных файлов лексикографически совпадают с хронологией.
func (s *Store) listFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию WORM: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// recoverLastDigest восстанавливает дайджест последней строки журнала.
// Идёт от самого свежего файла к более старым, пропуская пустые:
// пустой файл текущего дня (например, после сбоя до первой записи)
// не должен обрывать цепочку к genesis. Вызывается при старте.
func (s *Store) recoverLastDigest() error {
	files, err := s.listFiles()
	if err != nil {
		return err
	}

	for i := len(files) - 1; i >= 0; i-- {
		lines, err := readLines(files[i])
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			continue
		}

		s.lastDigest = lines[len(lines)-1].Digest
		s.logger.Debug("Цепочка дайджестов восстановлена",
			slog.String("file", files[i]),
			slog.Int("lines", len(lines)),
		)
		return nil
	}
	return nil
}

// readLines читает и десериализует все строки WORM-файла.
func readLines(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	defer f.Close()

	var lines []Line
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line Line
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("ошибка десериализации строки в %s: %w", path, err)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}
	return lines, nil
}

// computeDigest вычисляет SHA-256 дайджест строки без поля digest.
func computeDigest(line Line) (string, error) {
	line.Digest = ""
	payload, err := json.Marshal(line)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации строки: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

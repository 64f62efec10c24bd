// Пакет docstore — хранение документов договоров на диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету,
// чтение и проверку целостности файлов.
package docstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DocStore — управление файлами документов договоров на диске.
// Файлы раскладываются по директориям договоров: {contractID}/{variant}.pdf.
type DocStore struct {
	// dataDir — корневая директория хранения документов (CM_CONTRACTS_DIR)
	dataDir string
}

// SaveResult — результат сохранения документа на диск.
type SaveResult struct {
	// StoragePath — относительный путь файла в dataDir
	StoragePath string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого файла
	Checksum string
}

// New создаёт новый DocStore. Проверяет и создаёт директорию
// если она не существует.
func New(dataDir string) (*DocStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию документов %s: %w", dataDir, err)
	}

	return &DocStore{dataDir: dataDir}, nil
}

// Save записывает документ из reader на диск с подсчётом SHA-256 на лету.
// Относительный путь файла: {contractID}/{variant}.pdf.
// Возвращает путь, размер и checksum записанного документа.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (ds *DocStore) Save(reader io.Reader, contractID, variant string) (*SaveResult, error) {
	storagePath := StoragePath(contractID, variant)
	fullPath := filepath.Join(ds.dataDir, storagePath)
	tmpPath := fullPath + ".tmp"

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию договора: %w", err)
	}

	// Создаём temp файл
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(reader, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoragePath: storagePath,
		FullPath:    fullPath,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает документ для чтения.
// storagePath — относительный путь файла в dataDir.
// Вызывающий код обязан закрыть файл.
func (ds *DocStore) Open(storagePath string) (*os.File, error) {
	fullPath := filepath.Join(ds.dataDir, storagePath)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("документ не найден: %s", storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия документа %s: %w", storagePath, err)
	}

	return f, nil
}

// FullPath возвращает абсолютный путь к документу на диске.
func (ds *DocStore) FullPath(storagePath string) string {
	return filepath.Join(ds.dataDir, storagePath)
}

// Exists проверяет существование документа на диске.
func (ds *DocStore) Exists(storagePath string) bool {
	fullPath := filepath.Join(ds.dataDir, storagePath)
	_, err := os.Stat(fullPath)
	return err == nil
}

// ComputeChecksum вычисляет SHA-256 хэш существующего документа.
// Используется при проверке целостности договоров.
func (ds *DocStore) ComputeChecksum(storagePath string) (string, error) {
	fullPath := filepath.Join(ds.dataDir, storagePath)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("документ не найден: %s", storagePath)
		}
		return "", fmt.Errorf("ошибка открытия документа %s: %w", storagePath, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", storagePath, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// DataDir возвращает путь к директории документов.
func (ds *DocStore) DataDir() string {
	return ds.dataDir
}

// StoragePath возвращает относительный путь документа договора.
// Формат: {contractID}/{variant}.pdf.
func StoragePath(contractID, variant string) string {
	return filepath.Join(contractID, variant+".pdf")
}

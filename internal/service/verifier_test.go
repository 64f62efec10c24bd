package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/signclient"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/storage/docstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeValidator — подменный удалённый валидатор.
type fakeValidator struct {
	verdict *signclient.Verdict
	err     error
	called  bool
}

func (f *fakeValidator) Validate(ctx context.Context, contractID, storedHash, calculatedHash string, signedAt *time.Time, document []byte) (*signclient.Verdict, error) {
	f.called = true
	return f.verdict, f.err
}

// signedDocument — байты документа с маркером встроенной подписи.
var signedDocument = []byte("%PDF-1.7\n/Type /Sig /ByteRange [0 100 200 300]\nsigned contract body\n%%EOF")

// setupSignedContract сохраняет подписанный документ в docstore
// и возвращает договор со статусом SIGNED.
func setupSignedContract(t *testing.T, ds *docstore.DocStore, doc []byte) *model.Contract {
	t.Helper()

	result, err := ds.Save(bytes.NewReader(doc), "contract-1", model.VariantSigned)
	if err != nil {
		t.Fatalf("ошибка сохранения документа: %v", err)
	}

	signedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Contract{
		ID:         "contract-1",
		Status:     model.ContractStatusSigned,
		SignedPath: &result.StoragePath,
		SignedHash: &result.Checksum,
		SignedAt:   &signedAt,
	}
}

func newDocStore(t *testing.T) *docstore.DocStore {
	t.Helper()
	ds, err := docstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания DocStore: %v", err)
	}
	return ds
}

// TestVerify_Unsigned проверяет вердикт для неподписанного договора.
func TestVerify_Unsigned(t *testing.T) {
	s := NewVerifierService(newDocStore(t), nil, 0, testLogger())

	c := &model.Contract{ID: "contract-1", Status: model.ContractStatusGenerated}

	result, err := s.Verify(context.Background(), c)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationUnsigned {
		t.Errorf("Status = %q, хотели %q", result.Status, model.ValidationUnsigned)
	}
	if result.Details["source"] != "local" {
		t.Errorf("source = %q, хотели local", result.Details["source"])
	}
}

// TestVerify_FileMissing проверяет вердикт при отсутствии файла на диске.
func TestVerify_FileMissing(t *testing.T) {
	s := NewVerifierService(newDocStore(t), nil, 0, testLogger())

	path := "contract-1/signed.pdf"
	hash := "abababababababababababababababababababababababababababababababab"
	signedAt := time.Now().UTC()
	c := &model.Contract{
		ID:         "contract-1",
		Status:     model.ContractStatusSigned,
		SignedPath: &path,
		SignedHash: &hash,
		SignedAt:   &signedAt,
	}

	result, err := s.Verify(context.Background(), c)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationTampered {
		t.Errorf("Status = %q, хотели %q", result.Status, model.ValidationTampered)
	}
}

// TestVerify_Tampered проверяет обнаружение подмены содержимого.
func TestVerify_Tampered(t *testing.T) {
	ds := newDocStore(t)
	s := NewVerifierService(ds, nil, 0, testLogger())

	c := setupSignedContract(t, ds, signedDocument)

	// Подменяем содержимое на диске после подписания
	if err := os.WriteFile(ds.FullPath(*c.SignedPath), []byte("tampered bytes"), 0o640); err != nil {
		t.Fatalf("ошибка подмены файла: %v", err)
	}

	result, err := s.Verify(context.Background(), c)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationTampered {
		t.Errorf("Status = %q, хотели %q", result.Status, model.ValidationTampered)
	}
	if result.CalculatedHash == *c.SignedHash {
		t.Error("вычисленный хэш не должен совпадать с сохранённым")
	}

	sum := sha256.Sum256([]byte("tampered bytes"))
	if result.CalculatedHash != hex.EncodeToString(sum[:]) {
		t.Errorf("CalculatedHash = %q не соответствует содержимому", result.CalculatedHash)
	}
}

// TestVerify_Valid проверяет вердикт для целого подписанного договора.
func TestVerify_Valid(t *testing.T) {
	ds := newDocStore(t)
	s := NewVerifierService(ds, nil, 0, testLogger())

	c := setupSignedContract(t, ds, signedDocument)

	result, err := s.Verify(context.Background(), c)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationValid {
		t.Errorf("Status = %q, хотели %q", result.Status, model.ValidationValid)
	}
	if result.CalculatedHash != *c.SignedHash {
		t.Errorf("CalculatedHash = %q, хотели %q", result.CalculatedHash, *c.SignedHash)
	}
	if result.Details["source"] != "local" {
		t.Errorf("source = %q, хотели local", result.Details["source"])
	}
}

// TestVerify_NoMarkers проверяет вердикт UNSIGNED при отсутствии
// маркеров встроенной подписи.
func TestVerify_NoMarkers(t *testing.T) {
	ds := newDocStore(t)
	s := NewVerifierService(ds, nil, 0, testLogger())

	c := setupSignedContract(t, ds, []byte("%PDF-1.7 plain document without signature"))

	result, err := s.Verify(context.Background(), c)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationUnsigned {
		t.Errorf("Status = %q, хотели %q", result.Status, model.ValidationUnsigned)
	}
}

// TestVerify_Expired проверяет локальную проверку срока действия подписи.
func TestVerify_Expired(t *testing.T) {
	ds := newDocStore(t)
	s := NewVerifierService(ds, nil, 30, testLogger())

	c := setupSignedContract(t, ds, signedDocument)

	// Часы на 31 день позже подписания
	s.now = func() time.Time { return c.SignedAt.AddDate(0, 0, 31) }

	result, err := s.Verify(context.Background(), c)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationExpired {
		t.Errorf("Status = %q, хотели %q", result.Status, model.ValidationExpired)
	}
}

// TestVerify_TTLWithinWindow проверяет, что свежая подпись не истекает.
func TestVerify_TTLWithinWindow(t *testing.T) {
	ds := newDocStore(t)
	s := NewVerifierService(ds, nil, 30, testLogger())

	c := setupSignedContract(t, ds, signedDocument)
	s.now = func() time.Time { return c.SignedAt.AddDate(0, 0, 10) }

	result, err := s.Verify(context.Background(), c)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationValid {
		t.Errorf("Status = %q, хотели %q", result.Status, model.ValidationValid)
	}
}

// TestVerify_RemoteVerdict проверяет использование вердикта
// удалённого валидатора.
func TestVerify_RemoteVerdict(t *testing.T) {
	ds := newDocStore(t)
	remote := &fakeValidator{
		verdict: &signclient.Verdict{Status: model.ValidationExpired, Details: "certificate expired"},
	}
	s := NewVerifierService(ds, remote, 0, testLogger())

	c := setupSignedContract(t, ds, signedDocument)

	result, err := s.Verify(context.Background(), c)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if !remote.called {
		t.Fatal("удалённый валидатор не был вызван")
	}
	if result.Status != model.ValidationExpired {
		t.Errorf("Status = %q, хотели %q", result.Status, model.ValidationExpired)
	}
	if result.Details["source"] != "remote" {
		t.Errorf("source = %q, хотели remote", result.Details["source"])
	}
	if result.Details["reason"] != "certificate expired" {
		t.Errorf("reason = %q", result.Details["reason"])
	}
}

// TestVerify_RemoteFailure проверяет деградацию в локальные проверки
// при недоступности удалённого валидатора.
func TestVerify_RemoteFailure(t *testing.T) {
	ds := newDocStore(t)
	remote := &fakeValidator{err: errors.New("connection refused")}
	s := NewVerifierService(ds, remote, 0, testLogger())

	c := setupSignedContract(t, ds, signedDocument)

	result, err := s.Verify(context.Background(), c)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationValid {
		t.Errorf("Status = %q, хотели %q (локальный вердикт)", result.Status, model.ValidationValid)
	}
	if result.Details["source"] != "local" {
		t.Errorf("source = %q, хотели local", result.Details["source"])
	}
}

// TestVerify_RemoteUnrecognizedStatus проверяет, что нераспознанный
// статус удалённого валидатора не даёт вердикта.
func TestVerify_RemoteUnrecognizedStatus(t *testing.T) {
	ds := newDocStore(t)
	remote := &fakeValidator{verdict: &signclient.Verdict{Status: "", Details: "pending"}}
	s := NewVerifierService(ds, remote, 0, testLogger())

	c := setupSignedContract(t, ds, signedDocument)

	result, err := s.Verify(context.Background(), c)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationValid {
		t.Errorf("Status = %q, хотели %q", result.Status, model.ValidationValid)
	}
	if result.Details["source"] != "local" {
		t.Errorf("source = %q, хотели local", result.Details["source"])
	}
}

// TestVerify_RemoteNotCalledForTampered проверяет, что удалённый
// валидатор не вызывается при расхождении хэшей.
func TestVerify_RemoteNotCalledForTampered(t *testing.T) {
	ds := newDocStore(t)
	remote := &fakeValidator{verdict: &signclient.Verdict{Status: model.ValidationValid}}
	s := NewVerifierService(ds, remote, 0, testLogger())

	c := setupSignedContract(t, ds, signedDocument)
	if err := os.WriteFile(ds.FullPath(*c.SignedPath), []byte("tampered"), 0o640); err != nil {
		t.Fatalf("ошибка подмены файла: %v", err)
	}

	result, err := s.Verify(context.Background(), c)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationTampered {
		t.Errorf("Status = %q, хотели %q", result.Status, model.ValidationTampered)
	}
	if remote.called {
		t.Error("удалённый валидатор не должен вызываться при расхождении хэшей")
	}
}

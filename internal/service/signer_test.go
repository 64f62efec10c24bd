package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/signclient"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/storage/docstore"
)

// fakeSigner — подменный удалённый сервис подписи.
type fakeSigner struct {
	doc    []byte
	err    error
	called bool
	// gotHash — хэш, переданный в последнем вызове
	gotHash string
}

func (f *fakeSigner) Sign(ctx context.Context, contractID, hash string) ([]byte, error) {
	f.called = true
	f.gotHash = hash
	return f.doc, f.err
}

// setupGeneratedContract сохраняет исходный документ в docstore
// и возвращает договор со статусом GENERATED.
func setupGeneratedContract(t *testing.T, ds *docstore.DocStore, doc []byte) *model.Contract {
	t.Helper()

	result, err := ds.Save(bytes.NewReader(doc), "contract-1", model.VariantOriginal)
	if err != nil {
		t.Fatalf("ошибка сохранения документа: %v", err)
	}

	return &model.Contract{
		ID:           "contract-1",
		Status:       model.ContractStatusGenerated,
		UnsignedPath: result.StoragePath,
		UnsignedHash: result.Checksum,
	}
}

// TestSign_Remote проверяет подписание через удалённый сервис.
func TestSign_Remote(t *testing.T) {
	ds := newDocStore(t)
	c := setupGeneratedContract(t, ds, []byte("unsigned document"))

	signedDoc := []byte("signed document bytes")
	remote := &fakeSigner{doc: signedDoc}
	g := NewSigningGateway(ds, remote, true, testLogger())

	result, err := g.Sign(context.Background(), c)
	if err != nil {
		t.Fatalf("Sign() ошибка: %v", err)
	}
	if !remote.called {
		t.Fatal("удалённый сервис подписи не был вызван")
	}
	if remote.gotHash != c.UnsignedHash {
		t.Errorf("переданный хэш = %q, хотели %q", remote.gotHash, c.UnsignedHash)
	}
	if !bytes.Equal(result.Document, signedDoc) {
		t.Error("документ не совпадает с ответом сервиса подписи")
	}
	if result.Fallback {
		t.Error("Fallback не должен быть установлен при удалённом подписании")
	}

	// Хэш всегда вычисляется локально от возвращённых байт
	sum := sha256.Sum256(signedDoc)
	if result.Hash != hex.EncodeToString(sum[:]) {
		t.Errorf("Hash = %q не соответствует подписанным байтам", result.Hash)
	}
	if result.SignedAt.IsZero() {
		t.Error("SignedAt не установлен")
	}
}

// TestSign_Disabled проверяет отказ при выключенном подписании.
func TestSign_Disabled(t *testing.T) {
	ds := newDocStore(t)
	c := setupGeneratedContract(t, ds, []byte("unsigned document"))

	g := NewSigningGateway(ds, &fakeSigner{}, false, testLogger())

	_, err := g.Sign(context.Background(), c)
	if !errors.Is(err, ErrSigningDisabled) {
		t.Errorf("ожидался ErrSigningDisabled, получено: %v", err)
	}
}

// TestSign_SourceMissing проверяет отказ при отсутствии исходного файла.
func TestSign_SourceMissing(t *testing.T) {
	ds := newDocStore(t)
	g := NewSigningGateway(ds, &fakeSigner{}, true, testLogger())

	c := &model.Contract{
		ID:           "contract-1",
		Status:       model.ContractStatusGenerated,
		UnsignedPath: "contract-1/original.pdf",
		UnsignedHash: "abababababababababababababababababababababababababababababababab",
	}

	_, err := g.Sign(context.Background(), c)
	if !errors.Is(err, ErrSourceMissing) {
		t.Errorf("ожидался ErrSourceMissing, получено: %v", err)
	}
}

// TestSign_NoRemoteFallback проверяет деградацию без удалённого сервиса.
func TestSign_NoRemoteFallback(t *testing.T) {
	ds := newDocStore(t)
	source := []byte("unsigned document")
	c := setupGeneratedContract(t, ds, source)

	g := NewSigningGateway(ds, nil, true, testLogger())

	result, err := g.Sign(context.Background(), c)
	if err != nil {
		t.Fatalf("Sign() ошибка: %v", err)
	}
	if !result.Fallback {
		t.Error("Fallback должен быть установлен без удалённого сервиса")
	}
	if !bytes.Equal(result.Document, source) {
		t.Error("при деградации документ должен совпадать с исходными байтами")
	}
	if result.Hash != c.UnsignedHash {
		t.Errorf("Hash = %q, хотели %q", result.Hash, c.UnsignedHash)
	}
}

// TestSign_EmptyResponseFallback проверяет деградацию при ответе
// сервиса подписи без документа.
func TestSign_EmptyResponseFallback(t *testing.T) {
	ds := newDocStore(t)
	source := []byte("unsigned document")
	c := setupGeneratedContract(t, ds, source)

	remote := &fakeSigner{doc: nil}
	g := NewSigningGateway(ds, remote, true, testLogger())

	result, err := g.Sign(context.Background(), c)
	if err != nil {
		t.Fatalf("Sign() ошибка: %v", err)
	}
	if !remote.called {
		t.Fatal("удалённый сервис подписи не был вызван")
	}
	if !result.Fallback {
		t.Error("Fallback должен быть установлен при пустом ответе")
	}
	if !bytes.Equal(result.Document, source) {
		t.Error("при деградации документ должен совпадать с исходными байтами")
	}
}

// TestSign_RemoteUnavailable проверяет, что недоступность сервиса
// подписи — ошибка, а не деградация.
func TestSign_RemoteUnavailable(t *testing.T) {
	ds := newDocStore(t)
	c := setupGeneratedContract(t, ds, []byte("unsigned document"))

	remote := &fakeSigner{err: fmt.Errorf("%w: статус 503", signclient.ErrUnavailable)}
	g := NewSigningGateway(ds, remote, true, testLogger())

	_, err := g.Sign(context.Background(), c)
	if !errors.Is(err, ErrSignerUnavailable) {
		t.Errorf("ожидался ErrSignerUnavailable, получено: %v", err)
	}
}

// TestSign_RemoteInvalidPayload проверяет маппинг некорректного ответа.
func TestSign_RemoteInvalidPayload(t *testing.T) {
	ds := newDocStore(t)
	c := setupGeneratedContract(t, ds, []byte("unsigned document"))

	remote := &fakeSigner{err: fmt.Errorf("%w: битый base64", signclient.ErrInvalidPayload)}
	g := NewSigningGateway(ds, remote, true, testLogger())

	_, err := g.Sign(context.Background(), c)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("ожидался ErrInvalidPayload, получено: %v", err)
	}
}

// TestSign_UsesSignedVariantAsSource проверяет, что при повторном
// подписании источником служит подписанный вариант.
func TestSign_UsesSignedVariantAsSource(t *testing.T) {
	ds := newDocStore(t)

	signedBytes := []byte("previously signed document")
	saved, err := ds.Save(bytes.NewReader(signedBytes), "contract-1", model.VariantSigned)
	if err != nil {
		t.Fatalf("ошибка сохранения документа: %v", err)
	}

	c := &model.Contract{
		ID:           "contract-1",
		Status:       model.ContractStatusSigned,
		UnsignedPath: "contract-1/original.pdf",
		UnsignedHash: "0000000000000000000000000000000000000000000000000000000000000000",
		SignedPath:   &saved.StoragePath,
		SignedHash:   &saved.Checksum,
	}

	remote := &fakeSigner{doc: []byte("re-signed")}
	g := NewSigningGateway(ds, remote, true, testLogger())

	if _, err := g.Sign(context.Background(), c); err != nil {
		t.Fatalf("Sign() ошибка: %v", err)
	}
	if remote.gotHash != saved.Checksum {
		t.Errorf("источник подписания = %q, хотели хэш подписанного варианта %q", remote.gotHash, saved.Checksum)
	}
}

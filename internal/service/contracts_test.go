package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/repository"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/storage/docstore"
)

// --- In-memory реализации репозиториев для юнит-тестов ---

// memContractRepo — ContractRepository в памяти.
// Повторяет семантику SQL-реализации, включая условный захват подписания.
type memContractRepo struct {
	mu     sync.Mutex
	byID   map[string]*model.Contract
	trail  map[string][]model.ContractAuditEntry
	nextID int64
	// appendErr имитирует сбой записи в журнал событий договора
	appendErr error
}

func newMemContractRepo() *memContractRepo {
	return &memContractRepo{
		byID:  make(map[string]*model.Contract),
		trail: make(map[string][]model.ContractAuditEntry),
	}
}

func (r *memContractRepo) Create(ctx context.Context, c *model.Contract) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID {
		if existing.BookingID == c.BookingID {
			return repository.ErrConflict
		}
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	stored := *c
	r.byID[c.ID] = &stored
	return nil
}

func (r *memContractRepo) GetByID(ctx context.Context, contractID string) (*model.Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[contractID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *c
	out.AuditTrail = append([]model.ContractAuditEntry(nil), r.trail[contractID]...)
	return &out, nil
}

func (r *memContractRepo) GetByBookingID(ctx context.Context, bookingID string) (*model.Contract, error) {
	r.mu.Lock()
	var found *model.Contract
	for _, c := range r.byID {
		if c.BookingID == bookingID {
			found = c
			break
		}
	}
	r.mu.Unlock()

	if found == nil {
		return nil, repository.ErrNotFound
	}
	return r.GetByID(ctx, found.ID)
}

func (r *memContractRepo) UpdateGenerated(ctx context.Context, contractID, unsignedPath, unsignedHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[contractID]
	if !ok {
		return repository.ErrNotFound
	}
	if c.Status == model.ContractStatusSigning || c.Status == model.ContractStatusSigned {
		return repository.ErrConflict
	}
	c.UnsignedPath = unsignedPath
	c.UnsignedHash = unsignedHash
	c.Status = model.ContractStatusGenerated
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memContractRepo) ClaimForSigning(ctx context.Context, contractID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[contractID]
	if !ok {
		return repository.ErrNotFound
	}
	if c.Status != model.ContractStatusGenerated {
		return repository.ErrConflict
	}
	c.Status = model.ContractStatusSigning
	return nil
}

func (r *memContractRepo) ReleaseSigningClaim(ctx context.Context, contractID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[contractID]
	if !ok || c.Status != model.ContractStatusSigning {
		return repository.ErrNotFound
	}
	c.Status = model.ContractStatusGenerated
	return nil
}

func (r *memContractRepo) UpdateSigned(ctx context.Context, c *model.Contract) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[c.ID]
	if !ok || stored.Status != model.ContractStatusSigning {
		return repository.ErrConflict
	}
	stored.SignedPath = c.SignedPath
	stored.SignedHash = c.SignedHash
	stored.SignedAt = c.SignedAt
	stored.Status = model.ContractStatusSigned
	stored.UpdatedAt = time.Now().UTC()
	c.Status = model.ContractStatusSigned
	return nil
}

func (r *memContractRepo) AppendAuditEntry(ctx context.Context, e *model.ContractAuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.appendErr != nil {
		return r.appendErr
	}
	r.nextID++
	e.ID = r.nextID
	e.CreatedAt = time.Now().UTC()
	r.trail[e.ContractID] = append(r.trail[e.ContractID], *e)
	return nil
}

// snapshot возвращает глубокую копию состояния репозитория.
func (r *memContractRepo) snapshot() (map[string]*model.Contract, map[string][]model.ContractAuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]*model.Contract, len(r.byID))
	for id, c := range r.byID {
		stored := *c
		byID[id] = &stored
	}
	trail := make(map[string][]model.ContractAuditEntry, len(r.trail))
	for id, entries := range r.trail {
		trail[id] = append([]model.ContractAuditEntry(nil), entries...)
	}
	return byID, trail
}

func (r *memContractRepo) restore(byID map[string]*model.Contract, trail map[string][]model.ContractAuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = byID
	r.trail = trail
}

// memTx повторяет транзакционную семантику repository.TxRunner:
// при ошибке fn состояние репозитория откатывается к снимку.
type memTx struct {
	repo *memContractRepo
}

func (tx memTx) Contracts(ctx context.Context, fn func(repo repository.ContractRepository) error) error {
	byID, trail := tx.repo.snapshot()
	if err := fn(tx.repo); err != nil {
		tx.repo.restore(byID, trail)
		return err
	}
	return nil
}

// memAuditRepo — AuditLogRepository в памяти.
type memAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLogEntry
}

func (r *memAuditRepo) Insert(ctx context.Context, e *model.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.CreatedAt = time.Now().UTC()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *memAuditRepo) ListForEntity(ctx context.Context, entityType, entityID string) ([]model.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.AuditLogEntry
	for _, e := range r.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// lastAction возвращает действие последней записи аудита.
func (r *memAuditRepo) lastAction() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return ""
	}
	return r.entries[len(r.entries)-1].Action
}

// noopWorm — заглушка WORM-реплики.
type noopWorm struct{}

func (noopWorm) Append(e *model.AuditLogEntry) error { return nil }

// fakeRenderer — подменный сервис рендеринга.
type fakeRenderer struct {
	doc []byte
	err error
}

func (f *fakeRenderer) Render(ctx context.Context, booking any) ([]byte, error) {
	return f.doc, f.err
}

// contractEnv — собранный сервис договоров с подменными коллабораторами.
type contractEnv struct {
	svc       *ContractService
	repo      *memContractRepo
	auditRepo *memAuditRepo
	docs      *docstore.DocStore
	signer    *fakeSigner
	renderer  *fakeRenderer
}

// setupContractService собирает сервис договоров поверх in-memory
// репозиториев и временной директории документов.
func setupContractService(t *testing.T) *contractEnv {
	t.Helper()

	ds := newDocStore(t)
	repo := newMemContractRepo()
	auditRepo := &memAuditRepo{}
	logger := testLogger()

	signer := &fakeSigner{doc: []byte("/Type /Sig signed contract bytes")}
	renderer := &fakeRenderer{doc: []byte("%PDF-1.7 rendered contract")}

	audit := NewAuditService(auditRepo, noopWorm{}, logger)
	gateway := NewSigningGateway(ds, signer, true, logger)
	verifier := NewVerifierService(ds, nil, 0, logger)
	links := NewLinkCodec("unit-test-secret-0123456789", 15*time.Minute)

	svc := NewContractService(repo, memTx{repo: repo}, ds, renderer, gateway, verifier, links, audit, logger)

	return &contractEnv{
		svc:       svc,
		repo:      repo,
		auditRepo: auditRepo,
		docs:      ds,
		signer:    signer,
		renderer:  renderer,
	}
}

func testBooking() *model.Booking {
	return &model.Booking{
		ID:           uuid.New().String(),
		HorseName:    "Буран",
		CustomerName: "Анна Петрова",
	}
}

// --- Тесты ---

// TestGenerate_NewContract проверяет формирование нового договора.
func TestGenerate_NewContract(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()
	bookingID := uuid.New().String()

	c, err := env.svc.Generate(ctx, bookingID, testBooking(), nil)
	if err != nil {
		t.Fatalf("Generate() ошибка: %v", err)
	}

	if c.Status != model.ContractStatusGenerated {
		t.Errorf("Status = %q, хотели %q", c.Status, model.ContractStatusGenerated)
	}
	if c.UnsignedHash == "" {
		t.Error("UnsignedHash не установлен")
	}
	if !env.docs.Exists(c.UnsignedPath) {
		t.Error("исходный документ не сохранён на диске")
	}

	// Журнал договора
	got, err := env.repo.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if len(got.AuditTrail) != 1 || got.AuditTrail[0].Action != "generated" {
		t.Errorf("журнал договора: %+v", got.AuditTrail)
	}

	// Журнал аудита
	if env.auditRepo.lastAction() != actionContractGenerated {
		t.Errorf("последнее действие аудита = %q", env.auditRepo.lastAction())
	}
}

// TestGenerate_Regenerate проверяет перерендеринг существующего договора.
func TestGenerate_Regenerate(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()
	bookingID := uuid.New().String()

	c1, err := env.svc.Generate(ctx, bookingID, testBooking(), nil)
	if err != nil {
		t.Fatalf("Generate() ошибка: %v", err)
	}

	env.renderer.doc = []byte("%PDF-1.7 updated contract content")
	c2, err := env.svc.Generate(ctx, bookingID, testBooking(), nil)
	if err != nil {
		t.Fatalf("повторный Generate() ошибка: %v", err)
	}

	if c2.ID != c1.ID {
		t.Errorf("повторная генерация создала новый договор: %q != %q", c2.ID, c1.ID)
	}
	if c2.UnsignedHash == c1.UnsignedHash {
		t.Error("хэш должен измениться после перерендеринга")
	}

	got, _ := env.repo.GetByID(ctx, c1.ID)
	if len(got.AuditTrail) != 2 {
		t.Errorf("журнал договора содержит %d записей, хотели 2", len(got.AuditTrail))
	}
}

// TestGenerate_SignedContractConflict проверяет отказ в перегенерации
// подписанного договора: статус и подписанные поля не должны разойтись.
func TestGenerate_SignedContractConflict(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()
	bookingID := uuid.New().String()

	c, err := env.svc.Generate(ctx, bookingID, testBooking(), nil)
	if err != nil {
		t.Fatalf("Generate() ошибка: %v", err)
	}
	if _, err := env.svc.Sign(ctx, c.ID, nil); err != nil {
		t.Fatalf("Sign() ошибка: %v", err)
	}

	env.renderer.doc = []byte("%PDF-1.7 replaced contract content")
	_, err = env.svc.Generate(ctx, bookingID, testBooking(), nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("ожидался ErrConflict, получено: %v", err)
	}

	// Договор остался подписанным, исходник не перезаписан
	got, _ := env.repo.GetByID(ctx, c.ID)
	if got.Status != model.ContractStatusSigned {
		t.Errorf("Status = %q, хотели %q", got.Status, model.ContractStatusSigned)
	}
	if got.SignedPath == nil || got.SignedHash == nil || got.SignedAt == nil {
		t.Error("подписанные поля договора не должны очищаться")
	}
	if got.UnsignedHash != c.UnsignedHash {
		t.Error("исходный документ подписанного договора не должен перезаписываться")
	}
}

// TestGenerate_InvalidBookingID проверяет отказ для некорректного UUID.
func TestGenerate_InvalidBookingID(t *testing.T) {
	env := setupContractService(t)

	_, err := env.svc.Generate(context.Background(), "not-a-uuid", testBooking(), nil)
	if !errors.Is(err, ErrInvalidID) {
		t.Errorf("ожидался ErrInvalidID, получено: %v", err)
	}
}

// TestSign_Lifecycle проверяет полный путь подписания.
func TestSign_Lifecycle(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()

	c, err := env.svc.Generate(ctx, uuid.New().String(), testBooking(), nil)
	if err != nil {
		t.Fatalf("Generate() ошибка: %v", err)
	}

	signed, err := env.svc.Sign(ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("Sign() ошибка: %v", err)
	}

	if signed.Status != model.ContractStatusSigned {
		t.Errorf("Status = %q, хотели %q", signed.Status, model.ContractStatusSigned)
	}
	if !signed.IsSigned() {
		t.Error("договор должен считаться подписанным")
	}
	if !env.docs.Exists(*signed.SignedPath) {
		t.Error("подписанный документ не сохранён на диске")
	}
	if env.auditRepo.lastAction() != actionContractSigned {
		t.Errorf("последнее действие аудита = %q", env.auditRepo.lastAction())
	}

	// Проверка целостности сразу после подписания
	result, err := env.svc.Verify(ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationValid {
		t.Errorf("Verify() = %q, хотели %q", result.Status, model.ValidationValid)
	}
}

// TestSign_Idempotent проверяет, что подписанный договор возвращается как есть.
func TestSign_Idempotent(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()

	c, _ := env.svc.Generate(ctx, uuid.New().String(), testBooking(), nil)
	first, err := env.svc.Sign(ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("Sign() ошибка: %v", err)
	}

	second, err := env.svc.Sign(ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("повторный Sign() ошибка: %v", err)
	}
	if *second.SignedHash != *first.SignedHash {
		t.Error("повторное подписание не должно менять подписанный документ")
	}
}

// TestSign_ConcurrentClaim проверяет, что договор в статусе SIGNING
// не подписывается повторно.
func TestSign_ConcurrentClaim(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()

	c, _ := env.svc.Generate(ctx, uuid.New().String(), testBooking(), nil)

	// Имитируем конкурирующий запрос, уже захвативший договор
	if err := env.repo.ClaimForSigning(ctx, c.ID); err != nil {
		t.Fatalf("ClaimForSigning() ошибка: %v", err)
	}

	_, err := env.svc.Sign(ctx, c.ID, nil)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("ожидался ErrConflict, получено: %v", err)
	}
}

// TestSign_ReleasesClaimOnFailure проверяет снятие захвата при ошибке
// сервиса подписи.
func TestSign_ReleasesClaimOnFailure(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()

	c, _ := env.svc.Generate(ctx, uuid.New().String(), testBooking(), nil)

	env.signer.err = errors.New("connection refused")
	if _, err := env.svc.Sign(ctx, c.ID, nil); err == nil {
		t.Fatal("ожидалась ошибка подписания")
	}

	// Захват снят: договор снова GENERATED и доступен для подписания
	got, _ := env.repo.GetByID(ctx, c.ID)
	if got.Status != model.ContractStatusGenerated {
		t.Errorf("Status после неудачи = %q, хотели %q", got.Status, model.ContractStatusGenerated)
	}

	env.signer.err = nil
	if _, err := env.svc.Sign(ctx, c.ID, nil); err != nil {
		t.Errorf("Sign() после восстановления сервиса ошибка: %v", err)
	}
}

// TestSign_TrailFailureRollsBack проверяет, что сбой записи журнала
// событий откатывает фиксацию подписания и снимает захват.
func TestSign_TrailFailureRollsBack(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()

	c, _ := env.svc.Generate(ctx, uuid.New().String(), testBooking(), nil)

	env.repo.appendErr = errors.New("insert failed")
	if _, err := env.svc.Sign(ctx, c.ID, nil); err == nil {
		t.Fatal("ожидалась ошибка фиксации подписания")
	}

	// Транзакция откатилась, захват снят: договор снова GENERATED
	got, _ := env.repo.GetByID(ctx, c.ID)
	if got.Status != model.ContractStatusGenerated {
		t.Errorf("Status после отката = %q, хотели %q", got.Status, model.ContractStatusGenerated)
	}
	if got.IsSigned() {
		t.Error("договор не должен считаться подписанным после отката")
	}

	env.repo.appendErr = nil
	signed, err := env.svc.Sign(ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("Sign() после восстановления ошибка: %v", err)
	}
	if signed.Status != model.ContractStatusSigned {
		t.Errorf("Status = %q, хотели %q", signed.Status, model.ContractStatusSigned)
	}
}

// TestVerify_TamperedAfterSigning проверяет обнаружение подмены
// подписанного файла.
func TestVerify_TamperedAfterSigning(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()

	c, _ := env.svc.Generate(ctx, uuid.New().String(), testBooking(), nil)
	signed, err := env.svc.Sign(ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("Sign() ошибка: %v", err)
	}

	// Подмена подписанного файла напрямую на диске
	if err := os.WriteFile(env.docs.FullPath(*signed.SignedPath), []byte("tampered"), 0o640); err != nil {
		t.Fatalf("ошибка подмены файла: %v", err)
	}

	result, err := env.svc.Verify(ctx, c.ID, nil)
	if err != nil {
		t.Fatalf("Verify() ошибка: %v", err)
	}
	if result.Status != model.ValidationTampered {
		t.Errorf("Status = %q, хотели %q", result.Status, model.ValidationTampered)
	}
	if env.auditRepo.lastAction() != actionContractVerified {
		t.Errorf("последнее действие аудита = %q", env.auditRepo.lastAction())
	}
}

// TestVerify_NotFound проверяет ошибку для неизвестного договора.
func TestVerify_NotFound(t *testing.T) {
	env := setupContractService(t)

	_, err := env.svc.Verify(context.Background(), uuid.New().String(), nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидался ErrNotFound, получено: %v", err)
	}
}

// TestDownload_RoundTrip проверяет выдачу и проверку ссылки скачивания.
func TestDownload_RoundTrip(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()

	c, _ := env.svc.Generate(ctx, uuid.New().String(), testBooking(), nil)

	link, err := env.svc.IssueLink(ctx, c.ID, model.VariantOriginal)
	if err != nil {
		t.Fatalf("IssueLink() ошибка: %v", err)
	}

	dl, err := env.svc.Download(ctx, link.ContractID, link.Variant, link.Expires, link.Token, nil)
	if err != nil {
		t.Fatalf("Download() ошибка: %v", err)
	}
	if dl.FullPath == "" {
		t.Error("FullPath не установлен")
	}
	if env.auditRepo.lastAction() != actionContractDownloaded {
		t.Errorf("последнее действие аудита = %q", env.auditRepo.lastAction())
	}
}

// TestDownload_BadToken проверяет отказ для чужого токена.
func TestDownload_BadToken(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()

	c, _ := env.svc.Generate(ctx, uuid.New().String(), testBooking(), nil)
	link, _ := env.svc.IssueLink(ctx, c.ID, model.VariantOriginal)

	_, err := env.svc.Download(ctx, link.ContractID, link.Variant, link.Expires, "deadbeef", nil)
	if !errors.Is(err, ErrLinkForbidden) {
		t.Errorf("ожидался ErrLinkForbidden, получено: %v", err)
	}
}

// TestDownload_Expired проверяет отказ для истёкшей ссылки.
func TestDownload_Expired(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()

	c, _ := env.svc.Generate(ctx, uuid.New().String(), testBooking(), nil)
	link, _ := env.svc.IssueLink(ctx, c.ID, model.VariantOriginal)

	// Истёкший момент с корректным для него токеном не принимается:
	// проверка истечения идёт до проверки токена
	_, err := env.svc.Download(ctx, link.ContractID, link.Variant, time.Now().Add(-time.Minute).Unix(), link.Token, nil)
	if !errors.Is(err, ErrLinkExpired) {
		t.Errorf("ожидался ErrLinkExpired, получено: %v", err)
	}
}

// TestIssueLink_SignedVariantUnavailable проверяет отказ в ссылке
// на подписанный вариант неподписанного договора.
func TestIssueLink_SignedVariantUnavailable(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()

	c, _ := env.svc.Generate(ctx, uuid.New().String(), testBooking(), nil)

	_, err := env.svc.IssueLink(ctx, c.ID, model.VariantSigned)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидался ErrNotFound, получено: %v", err)
	}
}

// TestGetByBookingID проверяет поиск договора по бронированию.
func TestGetByBookingID(t *testing.T) {
	env := setupContractService(t)
	ctx := context.Background()
	bookingID := uuid.New().String()

	c, _ := env.svc.Generate(ctx, bookingID, testBooking(), nil)

	got, err := env.svc.GetByBookingID(ctx, bookingID)
	if err != nil {
		t.Fatalf("GetByBookingID() ошибка: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("ID = %q, хотели %q", got.ID, c.ID)
	}

	_, err = env.svc.GetByBookingID(ctx, uuid.New().String())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидался ErrNotFound, получено: %v", err)
	}
}

package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/donorledger-backend/api/middleware"
	"github.com/angelmondragon/donorledger-backend/internal/fx"
	"github.com/angelmondragon/donorledger-backend/internal/ledger"
	"github.com/angelmondragon/donorledger-backend/pkg/config"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/pagination"
)

type fakeLedger struct {
	createPledge  func(ledger.CreatePledgeInput) (*models.Pledge, error)
	direct        func(ledger.CreateDirectPaymentInput) (*models.Payment, error)
	split         func(ledger.CreateSplitPaymentInput) (*models.Payment, []models.PaymentAllocation, error)
	list          func(ledger.Actor, ledger.PaymentQuery, pagination.Params) (ledger.PaymentPage, error)
	update        func(ledger.UpdatePaymentInput) (*models.Payment, error)
	updateStatus  func(uuid.UUID, enums.PaymentStatus) (*models.Payment, error)
	deletePledge  func(uuid.UUID) (ledger.DeletePledgeResult, error)
	recalcMany    func([]uuid.UUID) ([]ledger.PledgeAggregates, error)
	recordRate    func(fx.RecordRateInput) (*models.ExchangeRate, error)
	projection    ledger.Projection
	lastActor     ledger.Actor
	paymentDetail *ledger.PaymentDetail
}

func (f *fakeLedger) CreatePledge(_ context.Context, in ledger.CreatePledgeInput) (*models.Pledge, error) {
	f.lastActor = in.Actor
	return f.createPledge(in)
}

func (f *fakeLedger) GetPledge(_ context.Context, actor ledger.Actor, id uuid.UUID) (*models.Pledge, error) {
	f.lastActor = actor
	return &models.Pledge{ID: id, Currency: enums.CurrencyUSD}, nil
}

func (f *fakeLedger) DeletePledge(_ context.Context, actor ledger.Actor, id uuid.UUID) (ledger.DeletePledgeResult, error) {
	f.lastActor = actor
	return f.deletePledge(id)
}

func (f *fakeLedger) ProjectScheduled(_ context.Context, actor ledger.Actor, id uuid.UUID) (ledger.Projection, error) {
	f.lastActor = actor
	p := f.projection
	p.PledgeID = id
	return p, nil
}

func (f *fakeLedger) CreateDirectPayment(_ context.Context, in ledger.CreateDirectPaymentInput) (*models.Payment, error) {
	f.lastActor = in.Actor
	return f.direct(in)
}

func (f *fakeLedger) CreateSplitPayment(_ context.Context, in ledger.CreateSplitPaymentInput) (*models.Payment, []models.PaymentAllocation, error) {
	f.lastActor = in.Actor
	return f.split(in)
}

func (f *fakeLedger) GetPayment(_ context.Context, actor ledger.Actor, id uuid.UUID) (*ledger.PaymentDetail, error) {
	f.lastActor = actor
	if f.paymentDetail == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return f.paymentDetail, nil
}

func (f *fakeLedger) ListPayments(_ context.Context, actor ledger.Actor, q ledger.PaymentQuery, p pagination.Params) (ledger.PaymentPage, error) {
	f.lastActor = actor
	return f.list(actor, q, p)
}

func (f *fakeLedger) UpdatePayment(_ context.Context, in ledger.UpdatePaymentInput) (*models.Payment, error) {
	f.lastActor = in.Actor
	return f.update(in)
}

func (f *fakeLedger) UpdatePaymentStatus(_ context.Context, actor ledger.Actor, id uuid.UUID, status enums.PaymentStatus) (*models.Payment, error) {
	f.lastActor = actor
	return f.updateStatus(id, status)
}

func (f *fakeLedger) DeletePayment(_ context.Context, actor ledger.Actor, id uuid.UUID) (ledger.DeletePaymentResult, error) {
	f.lastActor = actor
	return ledger.DeletePaymentResult{PaymentID: id, DeletedAllocations: 2}, nil
}

func (f *fakeLedger) Recalculate(_ context.Context, actor ledger.Actor, id uuid.UUID) (ledger.PledgeAggregates, error) {
	f.lastActor = actor
	return ledger.PledgeAggregates{PledgeID: id, TotalPaid: decimal.RequireFromString("175"), Changed: true}, nil
}

func (f *fakeLedger) RecalculateMany(_ context.Context, actor ledger.Actor, ids []uuid.UUID) ([]ledger.PledgeAggregates, error) {
	f.lastActor = actor
	return f.recalcMany(ids)
}

func (f *fakeLedger) RecordRate(_ context.Context, in fx.RecordRateInput) (*models.ExchangeRate, error) {
	return f.recordRate(in)
}

var (
	testUser     = uuid.New()
	testLocation = uuid.New()
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "controllers-test", Output: io.Discard})
}

func scopedRequest(method, target, body string, params map[string]string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	ctx := middleware.WithUserID(req.Context(), testUser.String())
	ctx = middleware.WithRole(ctx, string(enums.ActorRoleUser))
	ctx = middleware.WithLocationID(ctx, testLocation.String())
	if len(params) > 0 {
		rc := chi.NewRouteContext()
		for k, v := range params {
			rc.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rc)
	}
	return req.WithContext(ctx)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestCreatePledgeMapsRequest(t *testing.T) {
	contactID := uuid.New()
	svc := &fakeLedger{createPledge: func(in ledger.CreatePledgeInput) (*models.Pledge, error) {
		assert.Equal(t, contactID, in.ContactID)
		assert.Equal(t, enums.CurrencyEUR, in.Currency)
		assert.Equal(t, "2024-01-05", in.PledgeDate.Format("2006-01-02"))
		require.NotNil(t, in.CampaignCode)
		assert.Equal(t, "GALA24", *in.CampaignCode)
		return &models.Pledge{
			ID:             uuid.New(),
			ContactID:      contactID,
			OriginalAmount: in.Amount,
			Currency:       in.Currency,
			Balance:        in.Amount,
			IsActive:       true,
			PledgeDate:     in.PledgeDate,
		}, nil
	}}

	body := `{"contactId":"` + contactID.String() + `","amount":"1000.00","currency":"eur","pledgeDate":"2024-01-05","campaignCode":" GALA24 "}`
	rec := httptest.NewRecorder()
	CreatePledge(svc, testLogger())(rec, scopedRequest(http.MethodPost, "/api/v1/pledges", body, nil))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, "1000", data["balance"])
	assert.Equal(t, "2024-01-05", data["pledgeDate"])
	require.NotNil(t, svc.lastActor.LocationID)
	assert.Equal(t, testLocation, *svc.lastActor.LocationID)
	assert.Equal(t, testUser, svc.lastActor.UserID)
}

func TestCreatePledgeRejectsUnknownCurrency(t *testing.T) {
	svc := &fakeLedger{createPledge: func(ledger.CreatePledgeInput) (*models.Pledge, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	body := `{"contactId":"` + uuid.NewString() + `","amount":"10","currency":"JPY","pledgeDate":"2024-01-05"}`
	rec := httptest.NewRecorder()
	CreatePledge(svc, testLogger())(rec, scopedRequest(http.MethodPost, "/api/v1/pledges", body, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlersRequireCallerIdentity(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pledges/x", nil)
	GetPledge(&fakeLedger{}, testLogger())(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetPledgeRejectsMalformedID(t *testing.T) {
	rec := httptest.NewRecorder()
	GetPledge(&fakeLedger{}, testLogger())(rec, scopedRequest(http.MethodGet, "/api/v1/pledges/nope", "", map[string]string{"pledgeId": "nope"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDirectPayment(t *testing.T) {
	pledgeID := uuid.New()
	svc := &fakeLedger{direct: func(in ledger.CreateDirectPaymentInput) (*models.Payment, error) {
		assert.Equal(t, pledgeID, in.PledgeID)
		assert.Equal(t, enums.PaymentStatusCompleted, in.Status)
		assert.Equal(t, enums.CurrencyILS, in.Currency)
		require.NotNil(t, in.ReceivedDate)
		assert.Nil(t, in.ExternalReferenceID, "blank references are dropped")
		converted := decimal.RequireFromString("100")
		return &models.Payment{
			ID:                     uuid.New(),
			PledgeID:               &pledgeID,
			Amount:                 in.Amount,
			Currency:               in.Currency,
			AmountInPledgeCurrency: &converted,
			PaymentDate:            in.PaymentDate,
			ReceivedDate:           in.ReceivedDate,
			Status:                 in.Status,
		}, nil
	}}

	body := `{"pledgeId":"` + pledgeID.String() + `","amount":360,"currency":"ILS","paymentDate":"2024-01-10","receivedDate":"2024-01-11","status":"Completed","externalReferenceId":"  "}`
	rec := httptest.NewRecorder()
	CreateDirectPayment(svc, testLogger())(rec, scopedRequest(http.MethodPost, "/api/v1/payments/direct", body, nil))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, "100", data["amountInPledgeCurrency"])
	assert.Equal(t, "2024-01-11", data["receivedDate"])
	assert.NotContains(t, data, "allocations")
}

func TestCreateDirectPaymentRequiresStatus(t *testing.T) {
	body := `{"pledgeId":"` + uuid.NewString() + `","amount":"10","currency":"USD","paymentDate":"2024-01-10"}`
	rec := httptest.NewRecorder()
	CreateDirectPayment(&fakeLedger{}, testLogger())(rec, scopedRequest(http.MethodPost, "/api/v1/payments/direct", body, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSplitPayment(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	svc := &fakeLedger{split: func(in ledger.CreateSplitPaymentInput) (*models.Payment, []models.PaymentAllocation, error) {
		require.Len(t, in.Allocations, 2)
		assert.Equal(t, enums.Currency(""), in.Allocations[0].Currency)
		assert.Equal(t, enums.CurrencyUSD, in.Allocations[1].Currency)
		payment := &models.Payment{ID: uuid.New(), Amount: in.Amount, Currency: in.Currency, Status: in.Status, PaymentDate: in.PaymentDate}
		rows := []models.PaymentAllocation{
			{ID: uuid.New(), PaymentID: payment.ID, PledgeID: a, AllocatedAmount: decimal.RequireFromString("180"), Currency: enums.CurrencyILS},
			{ID: uuid.New(), PaymentID: payment.ID, PledgeID: b, AllocatedAmount: decimal.RequireFromString("180"), Currency: enums.CurrencyILS},
		}
		return payment, rows, nil
	}}

	body := `{"amount":"360","currency":"ILS","paymentDate":"2024-01-10","status":"pending","allocations":[` +
		`{"pledgeId":"` + a.String() + `","amount":"180"},` +
		`{"pledgeId":"` + b.String() + `","amount":"50","currency":"usd"}]}`
	rec := httptest.NewRecorder()
	CreateSplitPayment(svc, testLogger())(rec, scopedRequest(http.MethodPost, "/api/v1/payments/split", body, nil))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	allocations, ok := data["allocations"].([]any)
	require.True(t, ok)
	assert.Len(t, allocations, 2)
}

func TestCreateSplitPaymentSurfacesMismatch(t *testing.T) {
	svc := &fakeLedger{split: func(ledger.CreateSplitPaymentInput) (*models.Payment, []models.PaymentAllocation, error) {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeAllocationMismatch, ledger.ErrAllocationMismatch, "allocations sum to 99.98, payment is 100.00")
	}}
	body := `{"amount":"100","currency":"USD","paymentDate":"2024-01-10","status":"completed","allocations":[{"pledgeId":"` + uuid.NewString() + `","amount":"99.98"}]}`
	rec := httptest.NewRecorder()
	CreateSplitPayment(svc, testLogger())(rec, scopedRequest(http.MethodPost, "/api/v1/payments/split", body, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeAllocationMismatch), decodeErrorCode(t, rec))
}

func TestCreateSplitPaymentRequiresAllocations(t *testing.T) {
	body := `{"amount":"100","currency":"USD","paymentDate":"2024-01-10","status":"completed","allocations":[]}`
	rec := httptest.NewRecorder()
	CreateSplitPayment(&fakeLedger{}, testLogger())(rec, scopedRequest(http.MethodPost, "/api/v1/payments/split", body, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPaymentsBuildsTypedQuery(t *testing.T) {
	pledgeID := uuid.New()
	var gotQuery ledger.PaymentQuery
	var gotParams pagination.Params
	svc := &fakeLedger{list: func(_ ledger.Actor, q ledger.PaymentQuery, p pagination.Params) (ledger.PaymentPage, error) {
		gotQuery, gotParams = q, p
		return ledger.PaymentPage{
			Items:      []models.Payment{{ID: uuid.New(), Status: enums.PaymentStatusCompleted, PaymentDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)}},
			NextCursor: "next",
		}, nil
	}}

	target := "/api/v1/payments?from=2024-01-01&to=2024-01-31&currency=usd,ils&status=completed&pledgeId=" + pledgeID.String() + "&limit=10&cursor=abc"
	rec := httptest.NewRecorder()
	ListPayments(svc, testLogger())(rec, scopedRequest(http.MethodGet, target, "", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []ledger.FilterKind{ledger.FilterDateRange, ledger.FilterCurrency, ledger.FilterStatus, ledger.FilterPledge}, gotQuery.Kinds())
	assert.Equal(t, 10, gotParams.Limit)
	assert.Equal(t, "abc", gotParams.Cursor)
	data := decodeData(t, rec)
	assert.Equal(t, "next", data["nextCursor"])
}

func TestListPaymentsRejectsBadFilters(t *testing.T) {
	svc := &fakeLedger{list: func(ledger.Actor, ledger.PaymentQuery, pagination.Params) (ledger.PaymentPage, error) {
		t.Fatal("service must not be called")
		return ledger.PaymentPage{}, nil
	}}
	for _, target := range []string{
		"/api/v1/payments?status=lost",
		"/api/v1/payments?from=2024-02-01&to=2024-01-01",
		"/api/v1/payments?limit=1000",
		"/api/v1/payments?pledgeId=123",
		"/api/v1/payments?from=yesterday",
	} {
		rec := httptest.NewRecorder()
		ListPayments(svc, testLogger())(rec, scopedRequest(http.MethodGet, target, "", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestUpdatePaymentClearsReceivedDate(t *testing.T) {
	paymentID := uuid.New()
	var got ledger.UpdatePaymentInput
	svc := &fakeLedger{update: func(in ledger.UpdatePaymentInput) (*models.Payment, error) {
		got = in
		return &models.Payment{ID: in.PaymentID, Status: enums.PaymentStatusExpected}, nil
	}}

	body := `{"status":"expected","receivedDate":null,"amount":"75.50"}`
	rec := httptest.NewRecorder()
	UpdatePayment(svc, testLogger())(rec, scopedRequest(http.MethodPatch, "/api/v1/payments/"+paymentID.String(), body, map[string]string{"paymentId": paymentID.String()}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, paymentID, got.PaymentID)
	assert.True(t, got.ClearReceivedDate)
	assert.Nil(t, got.ReceivedDate)
	require.NotNil(t, got.Status)
	assert.Equal(t, enums.PaymentStatusExpected, *got.Status)
	require.NotNil(t, got.Amount)
	assert.Equal(t, "75.5", got.Amount.String())
	assert.Nil(t, got.Currency)
	assert.Nil(t, got.PledgeID)
	assert.False(t, got.ClearPayerContact)
	assert.Nil(t, got.PayerContactID)
}

func TestUpdatePaymentPayerContact(t *testing.T) {
	paymentID := uuid.New()
	payer := uuid.New()
	var got ledger.UpdatePaymentInput
	svc := &fakeLedger{update: func(in ledger.UpdatePaymentInput) (*models.Payment, error) {
		got = in
		return &models.Payment{ID: in.PaymentID, Status: enums.PaymentStatusCompleted}, nil
	}}
	params := map[string]string{"paymentId": paymentID.String()}

	rec := httptest.NewRecorder()
	UpdatePayment(svc, testLogger())(rec, scopedRequest(http.MethodPatch, "/", `{"payerContactId":"`+payer.String()+`"}`, params))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, got.PayerContactID)
	assert.Equal(t, payer, *got.PayerContactID)
	assert.False(t, got.ClearPayerContact)

	rec = httptest.NewRecorder()
	UpdatePayment(svc, testLogger())(rec, scopedRequest(http.MethodPatch, "/", `{"payerContactId":null}`, params))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, got.PayerContactID)
	assert.True(t, got.ClearPayerContact)
}

func TestUpdatePaymentStatus(t *testing.T) {
	paymentID := uuid.New()
	svc := &fakeLedger{updateStatus: func(id uuid.UUID, status enums.PaymentStatus) (*models.Payment, error) {
		assert.Equal(t, paymentID, id)
		assert.Equal(t, enums.PaymentStatusRefunded, status)
		return &models.Payment{ID: id, Status: status}, nil
	}}
	rec := httptest.NewRecorder()
	UpdatePaymentStatus(svc, testLogger())(rec, scopedRequest(http.MethodPatch, "/", `{"status":"refunded"}`, map[string]string{"paymentId": paymentID.String()}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "refunded", decodeData(t, rec)["status"])

	rec = httptest.NewRecorder()
	UpdatePaymentStatus(svc, testLogger())(rec, scopedRequest(http.MethodPatch, "/", `{"status":"lost"}`, map[string]string{"paymentId": paymentID.String()}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPaymentNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	id := uuid.NewString()
	GetPayment(&fakeLedger{}, testLogger())(rec, scopedRequest(http.MethodGet, "/", "", map[string]string{"paymentId": id}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeletePledgeReportsCounts(t *testing.T) {
	pledgeID := uuid.New()
	sibling := uuid.New()
	svc := &fakeLedger{deletePledge: func(id uuid.UUID) (ledger.DeletePledgeResult, error) {
		return ledger.DeletePledgeResult{PledgeID: id, DeletedPayments: 2, DeletedAllocations: 3, RecalculatedPledgeIDs: []uuid.UUID{sibling}}, nil
	}}
	rec := httptest.NewRecorder()
	DeletePledge(svc, testLogger())(rec, scopedRequest(http.MethodDelete, "/", "", map[string]string{"pledgeId": pledgeID.String()}))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(2), data["deletedPayments"])
	assert.Equal(t, []any{sibling.String()}, data["recalculatedPledgeIds"])
}

func TestDeletePledgeSurfacesPartialFailure(t *testing.T) {
	svc := &fakeLedger{deletePledge: func(uuid.UUID) (ledger.DeletePledgeResult, error) {
		return ledger.DeletePledgeResult{}, pkgerrors.Wrap(pkgerrors.CodePartialMutation, errors.New("disk full"), "delete_pledge failed at delete_payments").
			WithDetails(map[string]any{"step": "delete_payments", "pending": []string{"p1"}})
	}}
	rec := httptest.NewRecorder()
	DeletePledge(svc, testLogger())(rec, scopedRequest(http.MethodDelete, "/", "", map[string]string{"pledgeId": uuid.NewString()}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(pkgerrors.CodePartialMutation), body.Error.Code)
	assert.Equal(t, "delete_payments", body.Error.Details["step"])
}

func TestPledgeProjection(t *testing.T) {
	svc := &fakeLedger{projection: ledger.Projection{
		Currency:    enums.CurrencyUSD,
		Balance:     decimal.RequireFromString("600"),
		Scheduled:   decimal.RequireFromString("500"),
		Unscheduled: decimal.RequireFromString("100"),
	}}
	rec := httptest.NewRecorder()
	PledgeProjection(svc, testLogger())(rec, scopedRequest(http.MethodGet, "/", "", map[string]string{"pledgeId": uuid.NewString()}))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "500", data["scheduled"])
	assert.Equal(t, "100", data["unscheduled"])
}

func TestAdminRecalculatePledges(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	svc := &fakeLedger{recalcMany: func(ids []uuid.UUID) ([]ledger.PledgeAggregates, error) {
		assert.Equal(t, []uuid.UUID{a, b}, ids)
		return []ledger.PledgeAggregates{{PledgeID: a}, {PledgeID: b}}, nil
	}}
	rec := httptest.NewRecorder()
	body := `{"pledgeIds":["` + a.String() + `","` + b.String() + `"]}`
	AdminRecalculatePledges(svc, testLogger())(rec, scopedRequest(http.MethodPost, "/", body, nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results, ok := decodeData(t, rec)["results"].([]any)
	require.True(t, ok)
	assert.Len(t, results, 2)

	rec = httptest.NewRecorder()
	AdminRecalculatePledges(svc, testLogger())(rec, scopedRequest(http.MethodPost, "/", `{"pledgeIds":[]}`, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRecalculatePledge(t *testing.T) {
	pledgeID := uuid.New()
	rec := httptest.NewRecorder()
	AdminRecalculatePledge(&fakeLedger{}, testLogger())(rec, scopedRequest(http.MethodPost, "/", "", map[string]string{"pledgeId": pledgeID.String()}))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, pledgeID.String(), data["pledgeId"])
	assert.Equal(t, "175", data["totalPaid"])
}

func TestAdminRecordExchangeRate(t *testing.T) {
	svc := &fakeLedger{recordRate: func(in fx.RecordRateInput) (*models.ExchangeRate, error) {
		assert.Equal(t, enums.CurrencyILS, in.Currency)
		assert.Equal(t, "3.6", in.Rate.String())
		return &models.ExchangeRate{ID: uuid.New(), BaseCurrency: enums.CurrencyUSD, TargetCurrency: in.Currency, Date: in.Date, Rate: in.Rate}, nil
	}}
	rec := httptest.NewRecorder()
	AdminRecordExchangeRate(svc, testLogger())(rec, scopedRequest(http.MethodPost, "/", `{"currency":"ils","date":"2024-01-10","rate":"3.6"}`, nil))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, "ILS", data["targetCurrency"])
	assert.Equal(t, "2024-01-10", data["date"])
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, testLogger(), map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{}})(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HealthReady(cfg, testLogger(), map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{err: errors.New("refused")}})(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	HealthLive(cfg)(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-DonorLedger-Env"))
}

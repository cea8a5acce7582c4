package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/ecgtrainer/internal/auth"
	appI18n "github.com/pavelanni/ecgtrainer/internal/i18n"
	"github.com/pavelanni/ecgtrainer/internal/imagebank"
	"github.com/pavelanni/ecgtrainer/internal/model"
	"github.com/pavelanni/ecgtrainer/internal/store"
)

const testSecret = "test-secret"

type testEnv struct {
	srv    *httptest.Server
	store  *store.Store
	fs     afero.Fs
	issuer *auth.Issuer
}

func newTestEnv(t *testing.T, cfg model.AppConfig) *testEnv {
	t.Helper()
	bcryptCost = bcrypt.MinCost
	require.NoError(t, appI18n.Init("en"))

	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fs := afero.NewMemMapFs()
	bank, err := imagebank.New(fs, "/img")
	require.NoError(t, err)

	issuer, err := auth.NewIssuer(testSecret, time.Hour, 5*time.Minute)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(appI18n.Middleware())
	New(s, issuer, bank, cfg).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: s, fs: fs, issuer: issuer}
}

type testClient struct {
	t      *testing.T
	env    *testEnv
	http   *http.Client
	header http.Header
}

func (e *testEnv) client(t *testing.T) *testClient {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testClient{t: t, env: e, http: &http.Client{Jar: jar}, header: http.Header{}}
}

func (c *testClient) do(method, path string, body any) (*http.Response, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.env.srv.URL+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.header {
		req.Header[k] = v
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (c *testClient) cookie(name string) string {
	u, _ := url.Parse(c.env.srv.URL)
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func registerBody(email string) map[string]any {
	return map[string]any{
		"email":               email,
		"password":            "secret1",
		"age":                 30,
		"gender":              "female",
		"academicInstitution": "Technion",
		"avgDegree":           90,
		"termsAgreement":      true,
	}
}

func (c *testClient) registerAndLogin(email string) string {
	c.t.Helper()
	resp, _ := c.do(http.MethodPost, "/register", registerBody(email))
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	resp, body := c.do(http.MethodPost, "/login", map[string]any{"email": email, "password": "secret1"})
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	return body["userId"].(string)
}

func (e *testEnv) createAdmin(t *testing.T, email string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, e.store.CreateAccount(model.Account{
		User: model.User{ID: "admin-1", Age: 40, Gender: "male", AcademicInstitution: "Rambam"},
		Credential: model.Credential{
			Email: email, PasswordHash: string(hash), Role: model.UserRoleAdmin, TermsAgreement: true,
		},
	}))
}

func (e *testEnv) signToken(t *testing.T, userID string, expiresIn time.Duration) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-" + userID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
		Role: model.UserRoleUser,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func TestRegisterLoginFlow(t *testing.T) {
	env := newTestEnv(t, model.AppConfig{})
	c := env.client(t)

	resp, body := c.do(http.MethodPost, "/register", registerBody("Alice@Example.com"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/login", body["redirect"])

	resp, body = c.do(http.MethodPost, "/login", map[string]any{"email": "alice@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/choose-model", body["redirect"])
	assert.Equal(t, "user", body["role"])
	assert.NotEmpty(t, c.cookie(tokenCookieName))
	assert.Equal(t, body["userId"], c.cookie(userIDCookieName))

	resp, body = c.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice@example.com", body["email"])
	expiry, err := time.Parse(time.RFC3339, body["sessionExpiresAt"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiry, time.Minute)
	user := body["user"].(map[string]any)
	assert.EqualValues(t, 1, user["totalEntries"])

	resp, body = c.do(http.MethodPost, "/choose-model", map[string]any{"action": "Test"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/pre-test", body["redirect"])

	resp, _ = c.do(http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, c.cookie(tokenCookieName))

	resp, body = c.do(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "NoToken", body["message"])
	assert.Equal(t, "/login", body["redirect"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, model.AppConfig{})
	resp, body := env.client(t).do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1", body["schema"])
}

func TestRegisterFailures(t *testing.T) {
	env := newTestEnv(t, model.AppConfig{})
	c := env.client(t)

	resp, _ := c.do(http.MethodPost, "/register", registerBody("bob@example.com"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := c.do(http.MethodPost, "/register", registerBody("bob@example.com"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "UserExists", body["code"])

	invalid := registerBody("carol@example.com")
	invalid["age"] = 12
	invalid["password"] = "123"
	resp, body = c.do(http.MethodPost, "/register", invalid)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	fields := body["fields"].(map[string]any)
	assert.Equal(t, "min", fields["age"])
	assert.Equal(t, "min", fields["password"])

	resp, body = c.do(http.MethodPost, "/login", map[string]any{"email": "bob@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "InvalidCredentials", body["code"])
	assert.Empty(t, body["redirect"])

	resp, _ = c.do(http.MethodPost, "/login", map[string]any{"email": "nobody@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExamScoresHundred(t *testing.T) {
	env := newTestEnv(t, model.AppConfig{})
	truth := map[string]string{"a.jpg": "Septal", "b.jpg": "Wellens"}
	_, err := env.store.InsertClassification(model.ImageClassification{PhotoName: "a.jpg", Category: model.CategorySTEMI, Subcategory: "Septal", Rate: 5})
	require.NoError(t, err)
	_, err = env.store.InsertClassification(model.ImageClassification{PhotoName: "b.jpg", Category: model.CategoryHighRisk, Subcategory: "Wellens", Rate: 10})
	require.NoError(t, err)

	c := env.client(t)
	c.registerAndLogin("dana@example.com")

	resp, body := c.do(http.MethodPost, "/pre-test", map[string]any{"questionCount": 2, "type": "full"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	examID := body["examId"].(string)
	assert.Equal(t, examID, c.cookie(examIDCookieName))
	assert.EqualValues(t, 1, body["answerNumber"])

	seen := map[string]bool{}
	for n := 1; n <= 2; n++ {
		resp, img := c.do(http.MethodGet, "/random-image", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		photo := img["photoName"].(string)
		require.False(t, seen[photo], "photo %s served twice", photo)
		seen[photo] = true

		resp, body = c.do(http.MethodPost, "/test", map[string]any{
			"photoName":         photo,
			"classificationDes": truth[photo],
			"answerTime":        10,
			"answerNumber":      n,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	assert.Equal(t, true, body["completed"])
	assert.EqualValues(t, 100, body["score"])
	assert.Equal(t, "/post-test-results?examId="+examID, body["redirect"])
	assert.Empty(t, c.cookie(examIDCookieName))

	// A completed exam accepts no further answers.
	resp, body = c.do(http.MethodPost, "/test", map[string]any{
		"examId": examID, "photoName": "a.jpg", "classificationDes": "Septal", "answerNumber": 3,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ExamCompleted", body["code"])

	resp, body = c.do(http.MethodGet, "/post-test-results?examId="+examID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 100, body["grade"])
	assert.EqualValues(t, 2, body["correctAnswers"])
	assert.EqualValues(t, 20, body["totalTime"])

	resp, body = c.do(http.MethodGet, "/getTestDetails?examId="+examID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var totalRate float64
	for _, a := range body["answers"].([]any) {
		totalRate += a.(map[string]any)["rate"].(float64)
	}
	assert.EqualValues(t, 15, totalRate)

	resp, _ = c.do(http.MethodGet, "/getTestDetails", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExamAnswerNumberMismatch(t *testing.T) {
	env := newTestEnv(t, model.AppConfig{})
	_, err := env.store.InsertClassification(model.ImageClassification{PhotoName: "a.jpg", Category: model.CategoryLowRisk, Rate: 1})
	require.NoError(t, err)

	c := env.client(t)
	c.registerAndLogin("eli@example.com")
	resp, _ := c.do(http.MethodPost, "/pre-test", map[string]any{"questionCount": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := c.do(http.MethodPost, "/test", map[string]any{
		"photoName": "a.jpg", "classificationDes": "LOW RISK", "answerNumber": 2,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "QuestionIndexMismatch", body["code"])

	resp, body = c.do(http.MethodPost, "/test", map[string]any{
		"photoName": "a.jpg", "classificationDes": "Nonsense",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "UnknownClassification", body["code"])

	resp, body = c.do(http.MethodPost, "/test", map[string]any{
		"photoName": "a.jpg", "classificationDes": "LOW RISK",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["answerNumber"])
	assert.EqualValues(t, 2, body["remaining"])

	resp, body = c.do(http.MethodPost, "/test", map[string]any{
		"photoName": "a.jpg", "classificationDes": "LOW RISK", "answerNumber": 2,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "PhotoAlreadyAnswered", body["code"])

	resp, _ = c.do(http.MethodPost, "/pre-test", map[string]any{"questionCount": 500})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTrainingAnswer(t *testing.T) {
	env := newTestEnv(t, model.AppConfig{})
	_, err := env.store.InsertClassification(model.ImageClassification{PhotoName: "s.jpg", Category: model.CategorySTEMI, Subcategory: "Inferior", Rate: 2})
	require.NoError(t, err)

	c := env.client(t)
	c.registerAndLogin("fay@example.com")

	resp, body := c.do(http.MethodPost, "/training", map[string]any{
		"photoName": "s.jpg", "classificationDes": "Inferior", "answerSubmitTime": 7,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["correct"])
	assert.Equal(t, "STEMI", body["classificationSetSrc"])

	resp, body = c.do(http.MethodPost, "/training", map[string]any{
		"photoName": "s.jpg", "classificationDes": "Wellens", "answerSubmitTime": 3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["correct"])

	resp, body = c.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := body["user"].(map[string]any)
	assert.EqualValues(t, 2, user["totalAnswers"])
	assert.EqualValues(t, 1, user["avgAnswers"])
	assert.EqualValues(t, 10, user["totalTrainTime"])
}

func TestClassifyImageOnce(t *testing.T) {
	env := newTestEnv(t, model.AppConfig{})
	env.createAdmin(t, "admin@example.com")
	require.NoError(t, afero.WriteFile(env.fs, "/img/bankPhotos/new.jpg", []byte("jpeg"), 0o644))

	c := env.client(t)
	resp, _ := c.do(http.MethodPost, "/login", map[string]any{"email": "admin@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := c.do(http.MethodGet, "/random-image-classification", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "new.jpg", body["fileName"])
	assert.Equal(t, "/images/bankPhotos/new.jpg", body["path"])

	resp, _ = c.do(http.MethodGet, "/images/bankPhotos/new.jpg", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req := map[string]any{"fileName": "new.jpg", "category": "HIGH RISK", "subcategory": "DeWinters", "rate": 4}
	resp, body = c.do(http.MethodPost, "/classify-image", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "DeWinters", body["subcategory"])

	resp, body = c.do(http.MethodPost, "/classify-image", req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "AlreadyClassified", body["code"])

	items, err := env.store.ListClassifications()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.EqualValues(t, 4, items[0].Rate)

	ok, err := afero.Exists(env.fs, "/img/graded/HIGH RISK/DeWinters/new.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	resp, _ = c.do(http.MethodGet, "/images/graded/HIGH%20RISK/DeWinters/new.jpg", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRoutesForbidden(t *testing.T) {
	env := newTestEnv(t, model.AppConfig{})
	c := env.client(t)
	c.registerAndLogin("gil@example.com")

	require.NoError(t, afero.WriteFile(env.fs, "/img/bankPhotos/raw.jpg", []byte("jpeg"), 0o644))
	require.NoError(t, afero.WriteFile(env.fs, "/img/graded/LOW RISK/ok.jpg", []byte("jpeg"), 0o644))
	resp, _ := c.do(http.MethodGet, "/images/graded/LOW%20RISK/ok.jpg", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, path := range []string{"/classified-images", "/random-image-classification", "/groups", "/images/bankPhotos/raw.jpg"} {
		resp, body := c.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, path)
		assert.NotEmpty(t, body["message"], path)
	}

	resp, _ = c.do(http.MethodPost, "/choose-model", map[string]any{"action": "classifyImages"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = c.do(http.MethodPost, "/choose-model", map[string]any{"action": "dance"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGroups(t *testing.T) {
	env := newTestEnv(t, model.AppConfig{})
	env.createAdmin(t, "admin@example.com")
	trainee := env.client(t)
	trainee.registerAndLogin("hila@example.com")

	c := env.client(t)
	resp, _ := c.do(http.MethodPost, "/login", map[string]any{"email": "admin@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := c.do(http.MethodPost, "/groups", map[string]any{"name": "Cohort A"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := int(body["id"].(float64))

	resp, _ = c.do(http.MethodPost, "/groups", map[string]any{"name": "Cohort A"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	path := "/groups/" + strconv.Itoa(id)
	resp, _ = c.do(http.MethodPost, path+"/members", map[string]any{"email": "hila@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = c.do(http.MethodPost, path+"/members", map[string]any{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "UserNotFound", body["code"])

	resp, body = c.do(http.MethodGet, path+"/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["group"].(map[string]any)["members"])

	resp, _ = c.do(http.MethodGet, "/groups/999/stats", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTokenFailures(t *testing.T) {
	env := newTestEnv(t, model.AppConfig{})
	c := env.client(t)
	userID := c.registerAndLogin("ido@example.com")

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"expired", env.signToken(t, userID, -time.Minute), "TokenExpired"},
		{"garbage", "not-a-token", "InvalidToken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bare := env.client(t)
			bare.header.Set("Authorization", "Bearer "+tt.token)
			resp, body := bare.do(http.MethodGet, "/me", nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, tt.reason, body["message"])
			assert.Equal(t, "/login", body["redirect"])
		})
	}
}

func TestTokenRefreshNearExpiry(t *testing.T) {
	env := newTestEnv(t, model.AppConfig{})
	c := env.client(t)
	userID := c.registerAndLogin("jon@example.com")

	bare := env.client(t)
	bare.header.Set("Authorization", "Bearer "+env.signToken(t, userID, 2*time.Minute))
	resp, _ := bare.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fresh := resp.Header.Get("X-Refreshed-Token")
	require.NotEmpty(t, fresh)

	claims, err := env.issuer.Verify(fresh)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.Subject)
	assert.Greater(t, time.Until(claims.ExpiresAt.Time), 50*time.Minute)

	// A fresh login token is far from expiry and is not reissued.
	resp, _ = c.do(http.MethodGet, "/me", nil)
	assert.Empty(t, resp.Header.Get("X-Refreshed-Token"))
}

func TestCSRF(t *testing.T) {
	tests := []struct {
		name       string
		csrf       bool
		sendHeader bool
		wantStatus int
	}{
		{"disabled", false, false, http.StatusOK},
		{"missing header", true, false, http.StatusForbidden},
		{"matching header", true, true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, model.AppConfig{CSRF: tt.csrf})
			c := env.client(t)
			resp, _ := c.do(http.MethodGet, "/healthz", nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			if tt.sendHeader {
				c.header.Set(csrfHeaderName, c.cookie(csrfCookieName))
			}
			resp, _ = c.do(http.MethodPost, "/register", registerBody("kim@example.com"))
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

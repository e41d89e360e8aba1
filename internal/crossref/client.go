// Пакет crossref — HTTP-клиент регистрационного агентства CrossRef.
// Три операции: проверка существования DOI, получение метаданных и
// отправка deposit XML (multipart). О жизненном цикле идентификатора
// клиент ничего не знает.
package crossref

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Операции для логов, ошибок и метрик.
const (
	opExists        = "exists"
	opFetchMetadata = "fetch_metadata"
	opSubmit        = "submit"
)

// Параметры deposit-запроса.
const (
	depositOperation = "doMDUpload"
	depositFileField = "fname"
	depositFileName  = "metadata.xml"
)

// Prometheus-метрики запросов к CrossRef.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dr_crossref_requests_total",
		Help: "Общее количество запросов к CrossRef (по операции и результату).",
	}, []string{"operation", "result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dr_crossref_request_duration_seconds",
		Help:    "Длительность запросов к CrossRef.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})
)

// Client — HTTP-клиент CrossRef.
// Владеет одним пулом соединений на всё время жизни; безопасен для
// конкурентного использования. Пул освобождается вызовом Close.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport
	baseURL    string
	username   string
	password   string //nolint:gosec // G101: поле структуры, секрет приходит из конфигурации
	logger     *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// New создаёт клиент CrossRef.
// baseURL — базовый URL агентства (например, https://test.crossref.org).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// timeout — таймаут HTTP-запросов (DR_CROSSREF_TIMEOUT).
func New(baseURL, username, password, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата CrossRef: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат CrossRef добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		transport: transport,
		baseURL:   strings.TrimRight(baseURL, "/"),
		username:  username,
		password:  password,
		logger:    logger.With(slog.String("component", "crossref_client")),
	}, nil
}

// Exists проверяет, известен ли DOI агентству.
// true — только при ответе 200. Любой другой ответ или ошибка транспорта — false,
// ошибка не возвращается: проверка носит рекомендательный характер.
//
// GET {baseURL}/works/{doi}
func (c *Client) Exists(ctx context.Context, doi string) bool {
	resp, err := c.getWork(ctx, opExists, doi)
	if err != nil {
		c.logger.Info("Проверка существования DOI не выполнена",
			slog.String("doi", doi),
			slog.String("error", err.Error()),
		)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		requestsTotal.WithLabelValues(opExists, "not_found").Inc()
		return false
	default:
		requestsTotal.WithLabelValues(opExists, "rejected").Inc()
		return false
	}
	requestsTotal.WithLabelValues(opExists, "success").Inc()
	return true
}

// FetchMetadata возвращает JSON-метаданные DOI из CrossRef.
// Ответ, отличный от 200, — AuthorityRejectedError со статусом и телом.
//
// GET {baseURL}/works/{doi}
func (c *Client) FetchMetadata(ctx context.Context, doi string) (string, error) {
	resp, err := c.getWork(ctx, opFetchMetadata, doi)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(opFetchMetadata, "transport_error").Inc()
		return "", &TransportError{Op: opFetchMetadata, Err: fmt.Errorf("чтение ответа: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		requestsTotal.WithLabelValues(opFetchMetadata, "rejected").Inc()
		rejected := &AuthorityRejectedError{Op: opFetchMetadata, StatusCode: resp.StatusCode, Body: string(data)}
		c.logger.Info("Ответ CrossRef на запрос метаданных",
			slog.String("doi", doi),
			slog.Int("status", resp.StatusCode),
		)
		return "", rejected
	}

	requestsTotal.WithLabelValues(opFetchMetadata, "success").Inc()
	return string(data), nil
}

// Submit отправляет deposit XML в CrossRef и возвращает тело ответа.
// Формат: multipart/form-data (browser-compatible) с полями operation,
// login_id, login_passwd и файлом fname=metadata.xml (application/xml).
//
// POST {baseURL}/servlet/deposit
func (c *Client) Submit(ctx context.Context, document string) (string, error) {
	if c.closed.Load() {
		return "", &TransportError{Op: opSubmit, Err: ErrClientClosed}
	}

	body, contentType, err := c.depositBody(document)
	if err != nil {
		return "", &TransportError{Op: opSubmit, Err: fmt.Errorf("формирование multipart: %w", err)}
	}

	reqURL := c.baseURL + "/servlet/deposit"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return "", &TransportError{Op: opSubmit, Err: fmt.Errorf("создание запроса: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	requestDuration.WithLabelValues(opSubmit).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(opSubmit, "transport_error").Inc()
		return "", &TransportError{Op: opSubmit, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(opSubmit, "transport_error").Inc()
		return "", &TransportError{Op: opSubmit, Err: fmt.Errorf("чтение ответа: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		requestsTotal.WithLabelValues(opSubmit, "rejected").Inc()
		c.logger.Info("CrossRef отклонил deposit",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(data)),
		)
		return "", &AuthorityRejectedError{Op: opSubmit, StatusCode: resp.StatusCode, Body: string(data)}
	}

	requestsTotal.WithLabelValues(opSubmit, "success").Inc()
	c.logger.Debug("Deposit принят CrossRef",
		slog.Duration("duration", time.Since(start)),
	)
	return string(data), nil
}

// Close освобождает пул соединений. Повторные вызовы — no-op.
// Ошибки закрытия логируются и не возвращаются.
func (c *Client) Close() error {
	released := false
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.transport.CloseIdleConnections()
		released = true
	})
	if released {
		c.logger.Info("Пул соединений CrossRef освобождён")
	} else {
		c.logger.Warn("Повторное закрытие клиента CrossRef проигнорировано")
	}
	return nil
}

// getWork выполняет GET /works/{doi}. Вызывающий код обязан закрыть resp.Body.
func (c *Client) getWork(ctx context.Context, op, doi string) (*http.Response, error) {
	if c.closed.Load() {
		return nil, &TransportError{Op: op, Err: ErrClientClosed}
	}

	reqURL := c.baseURL + "/works/" + doi
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("создание запроса: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(op, "transport_error").Inc()
		return nil, &TransportError{Op: op, Err: err}
	}
	return resp, nil
}

// depositBody формирует multipart-тело deposit-запроса.
// Текстовые части — только Content-Disposition, файловая — Content-Disposition
// и Content-Type, без Content-Transfer-Encoding (browser-compatible).
func (c *Client) depositBody(document string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"operation", depositOperation},
		{"login_id", c.username},
		{"login_passwd", c.password},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, depositFileField, depositFileName))
	h.Set("Content-Type", "application/xml")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.WriteString(part, document); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

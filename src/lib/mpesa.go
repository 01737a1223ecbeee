package lib

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"tikiti/src/config"

	"github.com/redis/go-redis/v9"
)

const mpesaTokenCacheKey = "mpesa:access_token"

// MpesaClient talks to the Daraja API: OAuth token issuance and STK push.
// Access tokens are cached in redis until shortly before they expire, so
// concurrent payment initiations share one token.
type MpesaClient struct {
	BaseURL        string
	Shortcode      string
	Passkey        string
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string

	http *http.Client
}

var mpesaClient *MpesaClient

func GetMpesaClient() *MpesaClient {
	if mpesaClient != nil {
		return mpesaClient
	}
	mpesaClient = &MpesaClient{
		BaseURL:        config.MpesaBaseURL(),
		Shortcode:      config.MpesaShortcode(),
		Passkey:        config.MpesaPasskey(),
		ConsumerKey:    config.MpesaConsumerKey(),
		ConsumerSecret: config.MpesaConsumerSecret(),
		CallbackURL:    config.MpesaCallbackURL(),
		http:           &http.Client{Timeout: 30 * time.Second},
	}
	return mpesaClient
}

// NewMpesaClient Replace the shared client. Used by tests.
func NewMpesaClient(c *MpesaClient) *MpesaClient {
	mpesaClient = c
	return mpesaClient
}

type StkPushRequest struct {
	Phone       string
	Amount      float64
	Reference   string
	Description string
}

type StkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	rdb := GetRedisClient()
	if rdb != nil {
		if token, err := rdb.Get(ctx, mpesaTokenCacheKey).Result(); err == nil {
			return token, nil
		} else if err != redis.Nil {
			log.Printf("[mpesa] Error reading cached token: %s\n", err.Error())
		}
	}

	url := fmt.Sprintf("%s/oauth/v1/generate?grant_type=client_credentials", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.ConsumerKey + ":" + c.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	res, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed with status %d: %s", res.StatusCode, string(body))
	}
	var tok mpesaTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	if rdb != nil {
		// Daraja tokens last an hour; cache a little under that.
		if err := rdb.SetEx(ctx, mpesaTokenCacheKey, tok.AccessToken, 50*time.Minute).Err(); err != nil {
			log.Printf("[mpesa] Error caching token: %s\n", err.Error())
		}
	}
	return tok.AccessToken, nil
}

// stkPassword is base64(shortcode + passkey + timestamp) per the Daraja spec.
func (c *MpesaClient) stkPassword(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.Shortcode + c.Passkey + timestamp))
}

// normalizePhone rewrites 07XX/+254 forms into the 2547XX form Daraja wants.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "+")
	if strings.HasPrefix(phone, "0") {
		phone = "254" + phone[1:]
	}
	return phone
}

// STKPush asks Daraja to prompt the customer's phone for payment. A non-zero
// ResponseCode is an initiation failure; the eventual outcome arrives on the
// webhook keyed by CheckoutRequestID.
func (c *MpesaClient) STKPush(ctx context.Context, params StkPushRequest) (*StkPushResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102150405")
	phone := normalizePhone(params.Phone)
	payload := map[string]any{
		"BusinessShortCode": c.Shortcode,
		"Password":          c.stkPassword(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int64(params.Amount),
		"PartyA":            phone,
		"PartyB":            c.Shortcode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.CallbackURL,
		"AccountReference":  params.Reference,
		"TransactionDesc":   params.Description,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/mpesa/stkpush/v1/processrequest", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stk push failed with status %d: %s", res.StatusCode, string(resBody))
	}
	var out StkPushResponse
	if err := json.Unmarshal(resBody, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return nil, fmt.Errorf("stk push rejected: %s", out.ResponseDescription)
	}
	log.Printf("[mpesa] STK push accepted: CheckoutRequestID=%s\n", out.CheckoutRequestID)
	return &out, nil
}

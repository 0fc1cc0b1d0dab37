package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-agent/pkg/logging"
)

func TestTwilioSenderPostsForm(t *testing.T) {
	var gotPath, gotTo, gotBody, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotTo = r.PostForm.Get("To")
		gotBody = r.PostForm.Get("Body")
		gotUser, _, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC1", "token", "+15550009999", logging.Nop())
	s.baseURL = srv.URL

	err := s.SendSMS(context.Background(), SMSMessage{To: "+15550001111", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", gotPath)
	assert.Equal(t, "+15550001111", gotTo)
	assert.Equal(t, "hello", gotBody)
	assert.Equal(t, "AC1", gotUser)
}

func TestTwilioSenderClassifiesErrors(t *testing.T) {
	status := http.StatusBadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"code":21211,"message":"invalid To"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC1", "token", "+15550009999", logging.Nop())
	s.baseURL = srv.URL

	err := s.SendSMS(context.Background(), SMSMessage{To: "x", Body: "hello"})
	require.Error(t, err)
	assert.True(t, isPermanent(err))
	assert.Contains(t, err.Error(), "code 21211")

	status = http.StatusServiceUnavailable
	err = s.SendSMS(context.Background(), SMSMessage{To: "x", Body: "hello"})
	require.Error(t, err)
	assert.False(t, isPermanent(err))
}

func TestTwilioSenderMissingCredentials(t *testing.T) {
	err := NewTwilioSender("", "", "", nil).SendSMS(context.Background(), SMSMessage{To: "+1", Body: "x"})
	assert.True(t, isPermanent(err))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSESSenderBuildsMessage(t *testing.T) {
	api := &fakeSES{}
	s := NewSESSender(api, SESConfig{FromEmail: "no-reply@clinic.example"}, logging.Nop())

	err := s.Send(context.Background(), EmailMessage{To: "jane@example.com", Subject: "Hi", Body: "Body"})
	require.NoError(t, err)
	assert.Equal(t, "Clinic Scheduling <no-reply@clinic.example>", aws.ToString(api.input.FromEmailAddress))
	assert.Equal(t, []string{"jane@example.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "Body", aws.ToString(api.input.Content.Simple.Body.Text.Data))

	api.err = errors.New("throttled")
	assert.Error(t, s.Send(context.Background(), EmailMessage{To: "jane@example.com"}))
}

func TestNewSendGridSenderNilWithoutKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "a@b.c"}, nil))
	s := NewSendGridSender(SendGridConfig{APIKey: "k", FromEmail: "a@b.c"}, nil)
	require.NotNil(t, s)
	assert.Equal(t, "Clinic Scheduling", s.fromName)
}

package paramstore

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
)

// SSMStore implements Store against AWS SSM Parameter Store, the
// production config-store backend.
type SSMStore struct {
	client *ssm.SSM
}

// NewSSMStore constructs a store bound to sess.
func NewSSMStore(sess *session.Session) *SSMStore {
	return &SSMStore{client: ssm.New(sess)}
}

func (s *SSMStore) GetParameter(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameterWithContext(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.Parameter.Value), nil
}

package kafka

import (
	"crypto/sha256"
	"crypto/sha512"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

// scramClient adapts an xdg-go SCRAM conversation to sarama.SCRAMClient
type scramClient struct {
	hash scram.HashGeneratorFcn
	conv *scram.ClientConversation
}

// scramGenerator returns the sarama client factory for mechanism, nil for
// mechanisms that are not SCRAM
func scramGenerator(mechanism string) (sarama.SASLMechanism, func() sarama.SCRAMClient) {
	switch mechanism {
	case sarama.SASLTypeSCRAMSHA256:
		return sarama.SASLTypeSCRAMSHA256, func() sarama.SCRAMClient { return &scramClient{hash: sha256.New} }
	case sarama.SASLTypeSCRAMSHA512:
		return sarama.SASLTypeSCRAMSHA512, func() sarama.SCRAMClient { return &scramClient{hash: sha512.New} }
	default:
		return sarama.SASLTypePlaintext, nil
	}
}

func (c *scramClient) Begin(user, password, authzID string) error {
	client, err := c.hash.NewClient(user, password, authzID)
	if err != nil {
		return err
	}
	c.conv = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conv.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conv != nil && c.conv.Done()
}

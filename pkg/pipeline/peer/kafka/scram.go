package kafka

import (
	"crypto/sha256"
	"crypto/sha512"

	"github.com/xdg-go/scram"
)

// SHA256 and SHA512 are xdg-go/scram HashGeneratorFcn values, wiring
// xdg-go/scram's mechanism negotiation into the hash functions the
// standard library already provides.
var (
	SHA256 scram.HashGeneratorFcn = sha256.New
	SHA512 scram.HashGeneratorFcn = sha512.New
)

// XDGSCRAMClient adapts github.com/xdg-go/scram's client to sarama's
// SCRAMClient interface, following the wiring documented in sarama's own
// SASL/SCRAM example.
type XDGSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

// Begin starts a new SCRAM conversation for the given credentials.
func (x *XDGSCRAMClient) Begin(userName, password, authzID string) error {
	client, err := x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.Client = client
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

// Step advances the conversation by one message.
func (x *XDGSCRAMClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

// Done reports whether the conversation has completed.
func (x *XDGSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}

package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/rs/zerolog"
)

// EC2Gateway drives EC2 instance power state through the AWS SDK.
type EC2Gateway struct {
	client *ec2.EC2
	logger *zerolog.Logger
}

func NewEC2Gateway(awsSession *session.Session, region string, logger *zerolog.Logger) *EC2Gateway {
	client := ec2.New(awsSession, &aws.Config{
		Region: aws.String(region),
	})
	return &EC2Gateway{
		client: client,
		logger: logger,
	}
}

func (g *EC2Gateway) DescribeInstances(ctx context.Context, ids []string) (map[string]string, error) {
	input := &ec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice(ids),
	}

	statuses := make(map[string]string, len(ids))
	err := g.client.DescribeInstancesPagesWithContext(ctx, input,
		func(page *ec2.DescribeInstancesOutput, lastPage bool) bool {
			for _, reservation := range page.Reservations {
				for _, instance := range reservation.Instances {
					if instance.State == nil {
						continue
					}
					statuses[aws.StringValue(instance.InstanceId)] = aws.StringValue(instance.State.Name)
				}
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("describe instances: %w", err)
	}

	return statuses, nil
}

func (g *EC2Gateway) StartInstances(ctx context.Context, ids []string) error {
	_, err := g.client.StartInstancesWithContext(ctx, &ec2.StartInstancesInput{
		InstanceIds: aws.StringSlice(ids),
	})
	if err != nil {
		return fmt.Errorf("start instances: %w", err)
	}
	g.logger.Info().Strs("instances", ids).Msg("Issued start to provider")
	return nil
}

func (g *EC2Gateway) StopInstances(ctx context.Context, ids []string) error {
	_, err := g.client.StopInstancesWithContext(ctx, &ec2.StopInstancesInput{
		InstanceIds: aws.StringSlice(ids),
	})
	if err != nil {
		return fmt.Errorf("stop instances: %w", err)
	}
	g.logger.Info().Strs("instances", ids).Msg("Issued stop to provider")
	return nil
}

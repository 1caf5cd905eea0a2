package broker

// Queue names. The queue name determines the payload type a consumer expects.
const (
	QueueTranscribe           = "Transcribe"
	QueueGenerateCaptionFiles = "GenerateCaptionFiles"
)

// deadLetterSuffix names the parking queue for jobs that exhausted retries.
const deadLetterSuffix = ".dead"

// JobTypes lists every queue the pipeline owns, in declaration order.
var JobTypes = []string{
	QueueTranscribe,
	QueueGenerateCaptionFiles,
}

// DeadLetterQueue returns the parking queue for queue.
func DeadLetterQueue(queue string) string {
	return queue + deadLetterSuffix
}

// Package wire holds the error-rendering helpers shared by the four
// dialect packages (lambdaapi, logsapi, objectapi, stackapi). Each
// dialect renders the same *apierror.Error into its own envelope shape;
// this is the one place that knows all three shapes.
package wire

import (
	"encoding/json"
	"encoding/xml"
	"net/http"

	"github.com/conorvenus/microstack/internal/apierror"
)

// AsAPIError normalizes any error into an *apierror.Error, classifying
// anything else as internal. Panics never reach it: chi's Recoverer
// answers those with its own 500 response.
func AsAPIError(err error) *apierror.Error {
	if apiErr, ok := apierror.As(err); ok {
		return apiErr
	}
	return apierror.New(apierror.Internal, "%v", err)
}

type jsonErrorBody struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

// WriteJSONError renders err as the JSON 1.1 / REST+JSON error shape
// AWS SDKs expect: {"__type":..,"message":..} plus X-Amzn-ErrorType.
func WriteJSONError(w http.ResponseWriter, err error) {
	apiErr := AsAPIError(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Amzn-ErrorType", apiErr.Kind.AWSType())
	w.WriteHeader(apiErr.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(jsonErrorBody{Type: apiErr.Kind.AWSType(), Message: apiErr.Message})
}

type xmlErrorBody struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// WriteXMLError renders err as the S3-style <Error> document.
func WriteXMLError(w http.ResponseWriter, err error) {
	apiErr := AsAPIError(err)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(apiErr.Kind.HTTPStatus())
	_ = xml.NewEncoder(w).Encode(xmlErrorBody{Code: apiErr.Kind.XMLCode(), Message: apiErr.Message})
}

type stackErrorResponse struct {
	XMLName xml.Name      `xml:"ErrorResponse"`
	Error   stackErrorDoc `xml:"Error"`
}

type stackErrorDoc struct {
	Type    string `xml:"Type"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// WriteStackError renders err as the CloudFormation-style
// <ErrorResponse><Error>...</Error></ErrorResponse> document.
func WriteStackError(w http.ResponseWriter, err error) {
	apiErr := AsAPIError(err)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(apiErr.Kind.HTTPStatus())
	_ = xml.NewEncoder(w).Encode(stackErrorResponse{
		Error: stackErrorDoc{Type: "Sender", Code: apiErr.Kind.XMLCode(), Message: apiErr.Message},
	})
}

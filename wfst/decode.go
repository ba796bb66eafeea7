package wfst

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Result 事务执行结果
type Result struct {
	Success       bool
	InsertedIDs   []string
	TotalInserted int
	TotalUpdated  int
	TotalDeleted  int
	Message       string
}

type featureID struct {
	FID string `xml:"fid,attr"`
}

// WFS 1.0.0
type transactionResponse10 struct {
	InsertResults []struct {
		FeatureIDs []featureID `xml:"FeatureId"`
	} `xml:"InsertResult"`
	TransactionResult struct {
		Status struct {
			Success        *struct{} `xml:"SUCCESS"`
			Failed         *struct{} `xml:"FAILED"`
			PartialSuccess *struct{} `xml:"PARTIAL"`
		} `xml:"Status"`
		Locator string `xml:"Locator"`
		Message string `xml:"Message"`
	} `xml:"TransactionResult"`
}

// WFS 1.1.0
type transactionResponse11 struct {
	Summary struct {
		TotalInserted string `xml:"totalInserted"`
		TotalUpdated  string `xml:"totalUpdated"`
		TotalDeleted  string `xml:"totalDeleted"`
	} `xml:"TransactionSummary"`
	InsertResults struct {
		Features []struct {
			FeatureIDs []featureID `xml:"FeatureId"`
		} `xml:"Feature"`
	} `xml:"InsertResults"`
}

type serviceExceptionReport struct {
	Exceptions []struct {
		Code    string `xml:"code,attr"`
		Message string `xml:",chardata"`
	} `xml:"ServiceException"`
}

type owsExceptionReport struct {
	Exceptions []struct {
		Code  string   `xml:"exceptionCode,attr"`
		Texts []string `xml:"ExceptionText"`
	} `xml:"Exception"`
}

// rootElement 读取文档根元素名
func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no root element")
			}
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// Decode 解析 WFS-T 响应。
// 无法解析返回 ProtocolError；后端报告失败返回 BackendRejected。
func Decode(body []byte) (*Result, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ProtocolError{Reason: "empty response"}
	}
	root, err := rootElement(body)
	if err != nil {
		return nil, &ProtocolError{Reason: "not an XML document", Err: err}
	}

	switch root {
	case "WFS_TransactionResponse":
		var resp transactionResponse10
		if err := xml.Unmarshal(body, &resp); err != nil {
			return nil, &ProtocolError{Reason: root, Err: err}
		}
		status := resp.TransactionResult.Status
		message := strings.TrimSpace(resp.TransactionResult.Message)
		switch {
		case status.Success != nil:
		case status.Failed != nil, status.PartialSuccess != nil:
			return nil, &BackendRejected{Code: strings.TrimSpace(resp.TransactionResult.Locator), Message: message}
		default:
			return nil, &ProtocolError{Reason: "transaction response has no status"}
		}
		result := &Result{Success: true, Message: message}
		for _, ir := range resp.InsertResults {
			for _, id := range ir.FeatureIDs {
				result.InsertedIDs = append(result.InsertedIDs, id.FID)
			}
		}
		result.TotalInserted = len(result.InsertedIDs)
		return result, nil

	case "TransactionResponse":
		var resp transactionResponse11
		if err := xml.Unmarshal(body, &resp); err != nil {
			return nil, &ProtocolError{Reason: root, Err: err}
		}
		result := &Result{
			Success:       true,
			TotalInserted: atoi(resp.Summary.TotalInserted),
			TotalUpdated:  atoi(resp.Summary.TotalUpdated),
			TotalDeleted:  atoi(resp.Summary.TotalDeleted),
		}
		for _, f := range resp.InsertResults.Features {
			for _, id := range f.FeatureIDs {
				result.InsertedIDs = append(result.InsertedIDs, id.FID)
			}
		}
		return result, nil

	case "ServiceExceptionReport":
		var report serviceExceptionReport
		if err := xml.Unmarshal(body, &report); err != nil {
			return nil, &ProtocolError{Reason: root, Err: err}
		}
		rejected := &BackendRejected{}
		var msgs []string
		for _, e := range report.Exceptions {
			if rejected.Code == "" {
				rejected.Code = e.Code
			}
			msgs = append(msgs, strings.TrimSpace(e.Message))
		}
		rejected.Message = strings.Join(msgs, "; ")
		return nil, rejected

	case "ExceptionReport":
		var report owsExceptionReport
		if err := xml.Unmarshal(body, &report); err != nil {
			return nil, &ProtocolError{Reason: root, Err: err}
		}
		rejected := &BackendRejected{}
		var msgs []string
		for _, e := range report.Exceptions {
			if rejected.Code == "" {
				rejected.Code = e.Code
			}
			for _, t := range e.Texts {
				msgs = append(msgs, strings.TrimSpace(t))
			}
		}
		rejected.Message = strings.Join(msgs, "; ")
		return nil, rejected
	}
	return nil, &ProtocolError{Reason: "unexpected root element " + root}
}
